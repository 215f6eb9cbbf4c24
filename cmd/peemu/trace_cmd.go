package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanforge/peemu/recording"
	"github.com/scanforge/peemu/vm"
)

var traceDB string

var traceCmd = &cobra.Command{
	Use:   "trace [file]",
	Short: "Walk every mapped page and record paging activity to SQLite",
	Long: `trace reads one word from every mapped page in order, forcing the ` +
		`whole image through the bounded page cache, and records the resulting ` +
		`page-in, page-out, and fault stream into a SQLite database.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		dbPath := traceDB
		if dbPath == "" {
			dbPath = os.Getenv("PEEMU_DB")
		}

		rec := recording.New(dbPath)
		defer rec.Close()

		tracer := recording.NewPagingTracer(rec)

		v, f, err := mapFile(args[0], func(b vm.Builder) vm.Builder {
			return b.WithTracer(tracer)
		})
		if err != nil {
			log.Fatalf("Error mapping %s: %v", args[0], err)
		}
		defer f.Close()
		defer v.Close()

		var faults int
		buf := make([]byte, 4)
		for page := uint32(0); page*vm.PageSize < v.Size(); page++ {
			if err := v.ReadR(page*vm.PageSize, buf); err != nil {
				faults++
			}
		}

		fmt.Printf("Walked %d pages (%d unreadable), trace written.\n",
			v.Size()/vm.PageSize, faults)
	},
}

func init() {
	traceCmd.Flags().StringVar(&traceDB, "db", "",
		"trace database path (default $PEEMU_DB or a generated name)")
	rootCmd.AddCommand(traceCmd)
}
