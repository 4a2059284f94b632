package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "intercom",
	Short: "Signaling and presence server for peer-to-peer calls",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: runServe,
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func applyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || level == "" {
		log.Warn().Str("log_level", level).Msg("unknown log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	rootCmd.AddCommand(serveCmd, profileCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
