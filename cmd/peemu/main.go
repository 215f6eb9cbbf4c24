// Command peemu maps Windows PE images into an emulator address space
// and lets an analyst inspect, dump, and trace the mapped memory.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "peemu",
	Short: "peemu inspects PE images through the emulator's virtual memory manager.",
	Long: `peemu maps a 32-bit PE image the way the emulator would load it and ` +
		`exposes the resulting address space: section-to-page layout, memory ` +
		`dumps served through the page cache, paging traces, and a live ` +
		`inspection server.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env supplies defaults such as PEEMU_PORT and PEEMU_DB.
		_ = godotenv.Load()

		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")
}
