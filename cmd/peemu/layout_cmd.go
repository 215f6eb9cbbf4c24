package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var layoutCmd = &cobra.Command{
	Use:   "layout [file]",
	Short: "Print the page layout of a mapped image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		v, f, err := mapFile(args[0])
		if err != nil {
			log.Fatalf("Error mapping %s: %v", args[0], err)
		}
		defer f.Close()
		defer v.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PAGE\tVA\tPERM\tBACKING\tOFFSET")

		for _, p := range v.Pages() {
			backing := "zero"
			if p.HasData {
				backing = "file"
				if p.Modified {
					backing = "scratch"
				}
			}

			fmt.Fprintf(w, "0x%04x\t0x%08x\t%s\t%s\t0x%x\n",
				p.Page, v.ImageBase()+p.VA, p.Perm, backing,
				uint64(p.BackingOffset)*512)
		}

		if err := w.Flush(); err != nil {
			log.Fatalf("Error writing layout: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(layoutCmd)
}
