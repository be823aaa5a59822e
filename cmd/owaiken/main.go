// Command owaiken runs the Owaiken rate limiting service.
package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "owaiken",
	Short: "Owaiken rate limiting service",
	Long: `Owaiken enforces tiered, multi-window usage quotas for the
applications in front of it. It exposes an HTTP check API backed by an
in-process sliding window, PostgreSQL or a Redis-compatible store.

Get started:
  owaiken serve              Run the service
  owaiken check <id>         Evaluate one check against the configured policy`,
	SilenceUsage: true,
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
