package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ayusman/aicam/internal/intrinsics"
	"github.com/ayusman/aicam/internal/labels"
	"github.com/spf13/cobra"
)

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Print the labels the detector reports, by category",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLabels(cmd)
	},
}

func init() {
	labelsCmd.Flags().StringVar(&runOpts.model, "model", "", "Network file")
	labelsCmd.Flags().StringVar(&runOpts.intrinsics, "intrinsics", "", "Intrinsics JSON (default: next to the model)")
	labelsCmd.Flags().StringVar(&runOpts.labelFile, "labels", "", "Label file used when the intrinsics carry no labels")
	labelsCmd.Flags().StringVar(&runOpts.labelFilter, "label-filter", "compact", "compact or reindex")
	rootCmd.AddCommand(labelsCmd)
}

func runLabels(cmd *cobra.Command) error {
	applyRunFlags(cmd, cfg, runOpts)

	in, err := intrinsics.Load(cfg.IntrinsicsPath)
	if err != nil {
		return err
	}
	if err := in.Validate(); err != nil {
		return err
	}
	if err := in.EnsureLabels(labels.LoadFile, cfg.LabelFile); err != nil {
		return err
	}
	mode, err := labels.ParseFilterMode(cfg.LabelFilter)
	if err != nil {
		return err
	}
	cat := labels.FromSlice(in.Labels, labels.Options{IgnorePlaceholders: in.IgnoreDashLabels, Mode: mode})

	n := len(cat.Labels())
	if mode == labels.FilterReindex {
		n = len(in.Labels)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tLABEL")
	fmt.Fprintln(w, "--------\t-----")
	for i := 0; i < n; i++ {
		fmt.Fprintf(w, "%d\t%s\n", i, cat.Label(i))
	}
	return w.Flush()
}
