package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/scanforge/peemu/monitoring"
)

var (
	servePort int
	noBrowser bool
)

var serveCmd = &cobra.Command{
	Use:   "serve [file]",
	Short: "Serve the mapped address space for interactive inspection",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SilenceUsage = true

		v, f, err := mapFile(args[0])
		if err != nil {
			log.Fatalf("Error mapping %s: %v", args[0], err)
		}
		defer f.Close()
		defer v.Close()

		port := servePort
		if port == 0 {
			if env := os.Getenv("PEEMU_PORT"); env != "" {
				port, err = strconv.Atoi(env)
				if err != nil {
					log.Fatalf("Bad PEEMU_PORT: %v", err)
				}
			}
		}

		m := monitoring.NewMonitor().WithPortNumber(port)
		if noBrowser {
			m = m.WithoutBrowser()
		}
		m.RegisterVMM(v)

		if _, err := m.StartServer(); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"listen port (default $PEEMU_PORT or a random port)")
	serveCmd.Flags().BoolVar(&noBrowser, "no-browser", false,
		"do not open the system browser")
	rootCmd.AddCommand(serveCmd)
}
