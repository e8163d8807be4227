package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"
)

// execute runs the command line and then flushes metrics and logs, whether
// or not the command succeeded.
func execute(args []string, stdout, stderr io.Writer) error {
	cmd, ctx := newRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return errors.Join(err, ctx.close())
}

func newRootCommand() (*cobra.Command, *commandContext) {
	var configFlag string
	var logLevelFlag string

	ctx := newCommandContext(&configFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "medaugment",
		Short:         "Augment medical image volumes for segmentation training",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			if _, err := ctx.ensureConfig(); err != nil {
				return err
			}
			return ctx.exposeMetrics()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringVar(&ctx.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")

	rootCmd.AddCommand(newAugmentCommand(ctx))
	rootCmd.AddCommand(newDicomCommand(ctx))
	rootCmd.AddCommand(newSplitCommand(ctx))
	rootCmd.AddCommand(newPreviewCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd, ctx
}
