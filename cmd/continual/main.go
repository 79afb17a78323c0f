// Package main provides the continual CLI: train class-incremental heads
// and inspect the files they produce.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "v0.1.0-dev"

var (
	verbose bool
	logger  *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "continual",
		Short: "Class-incremental classifier heads",
		Long: `continual trains classifier heads that grow one session at a time
(continual, cosine and linear heads) on synthetic backbone features and
writes a .born or .safetensors checkpoint after every session.`,
		SilenceUsage: true,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newTrainCmd(), newInspectCmd(), newVersionCmd())
	return root
}

// initLogger builds the production logger at level, or debug with --verbose.
// Only commands that log call it.
func initLogger(level zapcore.Level) error {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = l
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "continual %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
