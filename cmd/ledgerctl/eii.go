package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/IntegrityLedger/internal/eii"
)

var eiiCmd = &cobra.Command{
	Use:   "eii",
	Short: "Record and inspect Ethical Integrity Index snapshots",
}

var (
	eiiMetrics  eii.Metrics
	eiiBundleKB float64
	eiiCommit   string
	bundleDir   string
	bundleExt   string
)

func init() {
	eiiCmd.AddCommand(eiiRecordCmd)
	eiiCmd.AddCommand(eiiTrendCmd)
	eiiCmd.AddCommand(eiiBundleCmd)

	f := eiiRecordCmd.Flags()
	f.Float64Var(&eiiMetrics.SEO, "seo", 0, "SEO score 0-100")
	f.Float64Var(&eiiMetrics.A11y, "a11y", 0, "accessibility score 0-100")
	f.Float64Var(&eiiMetrics.Performance, "performance", 0, "performance score 0-100")
	f.Float64Var(&eiiMetrics.Bundle, "bundle", 0, "bundle efficiency score 0-100")
	f.Float64Var(&eiiBundleKB, "bundle-kb", 0, "derive the bundle score from an average bundle size in KB")
	f.StringVar(&eiiCommit, "commit", "", "source revision the metrics were measured at")
	for _, name := range []string{"seo", "a11y", "performance"} {
		_ = eiiRecordCmd.MarkFlagRequired(name)
	}
	eiiRecordCmd.MarkFlagsMutuallyExclusive("bundle", "bundle-kb")
	eiiRecordCmd.MarkFlagsOneRequired("bundle", "bundle-kb")

	eiiBundleCmd.Flags().Float64Var(&eiiBundleKB, "avg-kb", 0, "average bundle size in KB")
	eiiBundleCmd.Flags().StringVar(&bundleDir, "dir", "", "measure the average size of bundle files under this directory")
	eiiBundleCmd.Flags().StringVar(&bundleExt, "ext", ".js", "bundle file extension used with --dir")
	eiiBundleCmd.MarkFlagsMutuallyExclusive("avg-kb", "dir")
	eiiBundleCmd.MarkFlagsOneRequired("avg-kb", "dir")
}

// ── eii record ───────────────────────────────────────────────────────────────

var eiiRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Compute the EII for a set of metrics and append a snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := eiiMetrics
		if cmd.Flags().Changed("bundle-kb") {
			m.Bundle = eii.BundleScore(eiiBundleKB)
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.EII.Record(ctx, m, eiiCommit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if ok, err := printStructured(w, rec); ok {
			return err
		}
		s := rec.Snapshot
		fmt.Fprintf(w, "Snapshot:    %s\n", s.ID)
		if s.EII != nil {
			fmt.Fprintf(w, "EII:         %.1f\n", *s.EII)
		}
		fmt.Fprintf(w, "Metrics:     seo=%.1f a11y=%.1f performance=%.1f bundle=%.1f\n",
			s.Metrics.SEO, s.Metrics.A11y, s.Metrics.Performance, s.Metrics.Bundle)
		if len(s.Tags) > 0 {
			fmt.Fprintf(w, "Tags:        %s\n", strings.Join(s.Tags, ", "))
		}
		printTrendLine(w, rec.Trend)
		fmt.Fprintf(w, "Entry:       %s\n", rec.Entry.EntryID)
		fmt.Fprintf(w, "Merkle Root: %s\n", rec.Entry.MerkleRoot)
		return nil
	},
}

func printTrendLine(w io.Writer, t eii.TrendResult) {
	fmt.Fprintf(w, "Trend:       %s (%+.1f%% vs %d-point average %.1f)\n",
		t.Direction, t.ChangePercent, t.DataPoints, t.Average)
}

// ── eii trend ────────────────────────────────────────────────────────────────

var eiiTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Show EII history and the current trend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		hist, err := a.EII.History(ctx)
		if err != nil {
			return err
		}
		trend, ok := hist.Trend()

		w := cmd.OutOrStdout()
		out := struct {
			Snapshots []eii.Snapshot   `json:"snapshots"`
			Trend     *eii.TrendResult `json:"trend,omitempty"`
		}{Snapshots: hist.Snapshots()}
		if ok {
			out.Trend = &trend
		}
		if done, err := printStructured(w, out); done {
			return err
		}

		if !ok {
			fmt.Fprintln(w, "no EII snapshots recorded")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SNAPSHOT\tTIMESTAMP\tEII\tCOMMIT")
		for _, s := range out.Snapshots {
			score := "-"
			if s.EII != nil {
				score = fmt.Sprintf("%.1f", *s.EII)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Timestamp.Format(time.RFC3339), score, s.Commit)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Current:     %.1f\n", trend.Current)
		printTrendLine(w, trend)
		return nil
	},
}

// ── eii bundle ───────────────────────────────────────────────────────────────

var eiiBundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Score bundle efficiency from an average bundle size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		avg := eiiBundleKB
		files := 0
		if bundleDir != "" {
			var err error
			avg, files, err = averageFileKB(bundleDir, bundleExt)
			if err != nil {
				return err
			}
		}
		out := struct {
			AverageKB float64 `json:"average_kb"`
			Files     int     `json:"files,omitempty"`
			Score     float64 `json:"score"`
		}{AverageKB: avg, Files: files, Score: eii.BundleScore(avg)}

		w := cmd.OutOrStdout()
		if ok, err := printStructured(w, out); ok {
			return err
		}
		if files > 0 {
			fmt.Fprintf(w, "Files:       %d\n", files)
		}
		fmt.Fprintf(w, "Average:     %.1f KB\n", out.AverageKB)
		fmt.Fprintf(w, "Score:       %.1f\n", out.Score)
		return nil
	},
}

// averageFileKB returns the mean size in KB of the files under dir with
// extension ext.
func averageFileKB(dir, ext string) (float64, int, error) {
	var total int64
	n := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		n++
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("scan %s: %w", dir, err)
	}
	if n == 0 {
		return 0, 0, errors.New("no bundle files found under " + dir)
	}
	return float64(total) / float64(n) / 1024, n, nil
}
