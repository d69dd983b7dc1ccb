package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/IntegrityLedger/internal/config"
	"github.com/jmerrifield20/IntegrityLedger/internal/trust"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Score feedback trust and inspect the trust trend",
}

var (
	scoreAccountAge int
	scoreSignals    trust.Signals
	trendPeriod     int
)

func init() {
	trustCmd.AddCommand(trustScoreCmd)
	trustCmd.AddCommand(trustTrendCmd)

	f := trustScoreCmd.Flags()
	f.IntVar(&scoreAccountAge, "account-age-days", 0, "age of the submitting account in days (omit for anonymous)")
	f.BoolVar(&scoreSignals.Verified, "verified", false, "submitter is verified")
	f.BoolVar(&scoreSignals.HasContext, "context", false, "submission carries page context")
	f.BoolVar(&scoreSignals.Path, "path", false, "submission carries a page path")
	f.BoolVar(&scoreSignals.Locale, "locale", false, "submission carries a locale")
	f.BoolVar(&scoreSignals.UserAgent, "user-agent", false, "submission carries a user agent")

	trustTrendCmd.Flags().IntVar(&trendPeriod, "period", trust.DefaultEMAPeriod, "EMA smoothing period in days")
}

// ── trust score ──────────────────────────────────────────────────────────────

var trustScoreCmd = &cobra.Command{
	Use:   "score [message]",
	Short: "Score a feedback message without recording it",
	Long:  "score computes the trust score of a message. With no argument the message is read from stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var msg string
		if len(args) == 1 {
			msg = args[0]
		} else {
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read message: %w", err)
			}
			msg = string(data)
		}
		if strings.TrimSpace(msg) == "" {
			return errors.New("message is empty")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tc, err := config.LoadTrustConfig(cfg.Trust.ConfigPath)
		if err != nil {
			return err
		}
		scorer, err := trust.NewScorer(tc)
		if err != nil {
			return err
		}

		signals := scoreSignals
		if cmd.Flags().Changed("account-age-days") {
			age := scoreAccountAge
			signals.AccountAgeDays = &age
		}
		s := scorer.Compute(msg, signals)

		w := cmd.OutOrStdout()
		if ok, err := printStructured(w, s); ok {
			return err
		}
		fmt.Fprintf(w, "Score:            %.2f\n", s.Score)
		fmt.Fprintf(w, "Signal quality:   %.2f\n", s.Components.SignalQuality)
		fmt.Fprintf(w, "Account signals:  %.2f\n", s.Components.AccountSignals)
		fmt.Fprintf(w, "Behavioral:       %.2f\n", s.Components.Behavioral)
		fmt.Fprintf(w, "Content features: %.2f\n", s.Components.ContentFeatures)
		fmt.Fprintf(w, "Version:          %s\n", s.Version)
		if len(s.Flags) > 0 {
			fmt.Fprintf(w, "Flags:            %s\n", strings.Join(s.Flags, ", "))
		}
		return nil
	},
}

// ── trust trend ──────────────────────────────────────────────────────────────

var trustTrendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Summarise recorded feedback trust scores",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Feedback.Trend(ctx, trendPeriod)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if ok, err := printStructured(w, rep); ok {
			return err
		}
		if rep.Points == 0 {
			fmt.Fprintln(w, "no comparable trust scores recorded")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "DAY\tMEAN\tCOUNT")
		for _, d := range rep.Days {
			fmt.Fprintf(tw, "%s\t%.2f\t%d\n", d.Day, d.Mean, d.Count)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "EMA (%d):     %.2f\n", rep.EMAPeriod, rep.EMA)
		fmt.Fprintf(w, "30-day mean: %.2f\n", rep.Mean30d)
		fmt.Fprintf(w, "Opt-in rate: %.0f%%\n", rep.OptInRate*100)
		if rep.Skipped > 0 {
			fmt.Fprintf(w, "Skipped:     %d (incompatible scorer version or invalid score)\n", rep.Skipped)
		}
		return nil
	},
}
