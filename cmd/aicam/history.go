package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ayusman/aicam/internal/store"
	"github.com/spf13/cobra"
)

var historyOpts struct {
	limit  int
	counts bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently recorded frames and their detections",
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd, cfg, runOpts)
		st, err := openStore(cfg.DBPath)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("no history database configured")
		}
		defer st.Close()

		if historyOpts.counts {
			return printLabelCounts(st)
		}
		return printFrames(st, historyOpts.limit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "n", 20, "Number of frames to list (0 for all)")
	historyCmd.Flags().BoolVar(&historyOpts.counts, "counts", false, "Print detection counts per label instead")
	historyCmd.Flags().StringVar(&runOpts.dbPath, "db", "", "Detection history database")
	rootCmd.AddCommand(historyCmd)
}

func printFrames(st *store.Store, limit int) error {
	frames, err := st.Frames().List(limit)
	if err != nil {
		return fmt.Errorf("failed to list frames: %w", err)
	}
	if len(frames) == 0 {
		fmt.Println("No frames recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "CAPTURED\tSEQ\tDETECTIONS\tPATH")
	fmt.Fprintln(w, "--------\t---\t----------\t----")
	for _, f := range frames {
		summary := ""
		for i, d := range f.Detections {
			if i != 0 {
				summary += ", "
			}
			summary += fmt.Sprintf("%s (%.2f)", d.Label, d.Confidence)
		}
		if summary == "" {
			summary = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", f.CapturedAt.Local().Format("2006-01-02 15:04:05.000"), f.Sequence, summary, f.Path)
	}
	return w.Flush()
}

func printLabelCounts(st *store.Store) error {
	counts, err := st.Frames().LabelCounts()
	if err != nil {
		return fmt.Errorf("failed to count labels: %w", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tCOUNT")
	fmt.Fprintln(w, "-----\t-----")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\n", c.Label, c.Count)
	}
	return w.Flush()
}
