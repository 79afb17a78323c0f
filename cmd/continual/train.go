package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/born-ml/continual/internal/config"
	"github.com/born-ml/continual/internal/trainer"
)

func newTrainCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run every configured session",
		Long: `train loads the YAML run configuration (defaults apply when the file
does not exist), then runs each session and prints a summary table.

Environment overrides: CONTINUAL_LR, CONTINUAL_EPOCHS, CONTINUAL_OUTPUT_DIR.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			level, err := zapcore.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logging.level: %w", err)
			}
			if err := initLogger(level); err != nil {
				return err
			}

			tr, err := trainer.New(cfg, logger)
			if err != nil {
				return err
			}
			results, err := tr.Run(cmd.Context())
			if err != nil {
				logger.Error("training failed", zap.Error(err))
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s\n", tr.RunID())
			fmt.Fprintf(out, "%-8s %-8s %-10s %-10s %-10s %-10s %s\n",
				"session", "classes", "loss", "acc", "old_acc", "new_acc", "checkpoint")
			for _, r := range results {
				fmt.Fprintf(out, "%-8d %-8d %-10.4f %-10.4f %-10.4f %-10.4f %s\n",
					r.Session, r.Classes, r.Loss, r.Accuracy, r.OldAccuracy, r.NewAccuracy, r.Checkpoint)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "continual.yaml", "path to the YAML run configuration")
	return cmd
}
