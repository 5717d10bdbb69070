package main

import (
	"github.com/spf13/cobra"
)

// newRootCommand builds the CLI. environ supplies PODCAST_ overrides.
func newRootCommand(environ func() []string) *cobra.Command {
	var configFlag string
	var logFormat string
	var verbose bool

	ctx := newCommandContext(&configFlag, &logFormat, &verbose, environ)

	rootCmd := &cobra.Command{
		Use:           "podcast",
		Short:         "Produce podcast episodes end to end",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateLogFormat(logFormat); err != nil {
				return err
			}
			_, err := ctx.ensureSettings()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Settings file (YAML, JSON or TOML)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newResumeCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newCleanupCommand(ctx))

	return rootCmd
}
