package main

import (
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/continual/internal/nn"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the header and tensors of a .born or .safetensors file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return inspect(cmd.OutOrStdout(), args[0])
		},
	}
}

func inspect(out io.Writer, path string) error {
	stateDict, header, err := nn.ReadFile(path)
	if err != nil {
		return err
	}

	format := "born"
	if strings.EqualFold(filepath.Ext(path), nn.SafeTensorsExt) {
		format = "safetensors"
	}
	fmt.Fprintf(out, "file:       %s\n", path)
	fmt.Fprintf(out, "format:     %s\n", format)
	if header.ModelType != "" {
		fmt.Fprintf(out, "model_type: %s\n", header.ModelType)
	}
	if !header.CreatedAt.IsZero() {
		fmt.Fprintf(out, "created_at: %s\n", header.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if ckpt := header.CheckpointMeta; ckpt != nil && ckpt.IsCheckpoint {
		fmt.Fprintf(out, "checkpoint: session=%d epoch=%d step=%d loss=%.6f optimizer=%s\n",
			ckpt.Session, ckpt.Epoch, ckpt.Step, ckpt.Loss, ckpt.OptimizerType)
	}

	if len(header.Metadata) > 0 {
		fmt.Fprintln(out, "metadata:")
		for _, k := range slices.Sorted(maps.Keys(header.Metadata)) {
			fmt.Fprintf(out, "  %s = %s\n", k, header.Metadata[k])
		}
	}

	fmt.Fprintf(out, "tensors (%d):\n", len(stateDict))
	var total int
	for _, name := range slices.Sorted(maps.Keys(stateDict)) {
		raw := stateDict[name]
		total += raw.ByteSize()
		fmt.Fprintf(out, "  %-32s %-8s %v\n", name, raw.DType(), raw.Shape())
	}
	fmt.Fprintf(out, "data bytes: %d\n", total)
	return nil
}
