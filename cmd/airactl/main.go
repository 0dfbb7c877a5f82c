package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	initLogging()

	root := &cobra.Command{
		Use:           "airactl",
		Short:         "Console client for the Aira backlog backend",
		Long:          "Manages backlog projects and items over REST and watches agent runs over a live stream.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		healthCmd(),
		whoamiCmd(),
		projectsCmd(),
		itemsCmd(),
		runsCmd(),
		runCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// initLogging configures structured logging from environment.
func initLogging() {
	level, err := zerolog.ParseLevel(os.Getenv("AIRACTL_LOG_LEVEL"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if os.Getenv("AIRACTL_LOG_FORMAT") == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
