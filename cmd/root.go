package cmd

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Verbose controls whether debug-level logs are emitted.
var Verbose bool

var rootCmd = &cobra.Command{
	Use:   "silviapid",
	Short: "Closed-loop PID control core for a single-boiler espresso machine",
	Long:  "silviapid drives a K-type thermocouple and a PWM solid-state relay to hold boiler temperature at a commanded setpoint, with safety interlocks and a gRPC command surface.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if Verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "v", false, "Enable debug-level logging")
}
