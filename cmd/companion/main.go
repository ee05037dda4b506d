package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type runFlags struct {
	manual   bool
	tui      bool
	noStream bool
	envFile  string
}

func main() {
	flags := runFlags{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the companion and wait for the wake phrase",
		Long: `Start the companion in its sleep state. Say "Hey Baymax" to wake it and
"I'm satisfied with my care" to put it back to sleep.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}
	runCmd.Flags().BoolVar(&flags.manual, "manual", false, "read lines from stdin as typed user input")
	runCmd.Flags().BoolVar(&flags.tui, "tui", false, "show a terminal status view")
	runCmd.Flags().BoolVar(&flags.noStream, "no-stream", false, "use energy wake detection and batch transcription instead of live streaming")
	runCmd.Flags().StringVar(&flags.envFile, "env-file", ".env", "file to load environment variables from")

	rootCmd := &cobra.Command{
		Use:           "companion",
		Short:         "A voice-driven healthcare companion",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCmd.RunE,
	}
	rootCmd.Flags().AddFlagSet(runCmd.Flags())
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
