package main

import (
	"encoding/hex"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

var (
	dumpAddr uint32
	dumpLen  uint32
)

var dumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "Hex-dump mapped memory through the page cache",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		v, f, err := mapFile(args[0])
		if err != nil {
			log.Fatalf("Error mapping %s: %v", args[0], err)
		}
		defer f.Close()
		defer v.Close()

		addr := dumpAddr
		if addr >= v.ImageBase() {
			addr -= v.ImageBase()
		}

		buf := make([]byte, dumpLen)
		if err := v.ReadR(addr, buf); err != nil {
			log.Fatalf("Error reading 0x%x+0x%x: %v", addr, dumpLen, err)
		}

		fmt.Print(hex.Dump(buf))
	},
}

func init() {
	dumpCmd.Flags().Uint32Var(&dumpAddr, "addr", 0,
		"virtual address to dump (image-relative, or absolute above the image base)")
	dumpCmd.Flags().Uint32Var(&dumpLen, "len", 256, "bytes to dump")
	rootCmd.AddCommand(dumpCmd)
}
