package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/medtrack/internal/domain/adherence"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "medtrack",
		Short:         "Medication adherence dashboard API and patient CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(prescriptionsCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(markTakenCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(healthCmd())
	return rootCmd
}

// newLogger writes JSON, or console output in development, at LOG_LEVEL.
func newLogger(w io.Writer, env, level string) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// describeError renders err for a terminal user, with a hint for the kinds a
// user can act on.
func describeError(err error) string {
	msg := err.Error()
	var ae *adherence.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	switch adherence.KindOf(err) {
	case adherence.KindNetwork:
		msg += " (check your connection and retry)"
	case adherence.KindAuth:
		msg += " (run `medtrack login`)"
	}
	return msg
}
