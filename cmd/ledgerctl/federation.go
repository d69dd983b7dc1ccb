package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/IntegrityLedger/internal/federation"
)

var federationCmd = &cobra.Command{
	Use:   "federation",
	Short: "Verify federation partners' published attestations",
}

var (
	fedDryRun  bool
	fedPartner string
)

func init() {
	federationCmd.AddCommand(federationVerifyCmd)

	federationVerifyCmd.Flags().BoolVar(&fedDryRun, "dry-run", false, "verify without appending to the ledger")
	federationVerifyCmd.Flags().StringVar(&fedPartner, "partner", "", "verify only this partner ID")
}

var federationVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run one verification cycle; exit 1 when any partner is flagged",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Verifier.Run(ctx, federation.RunOptions{DryRun: fedDryRun, PartnerID: fedPartner})
		if err != nil {
			return err
		}
		if err := printFederationReport(cmd.OutOrStdout(), rep); err != nil {
			return err
		}
		if rep.RequiresReview() {
			return &exitError{code: 1, msg: fmt.Sprintf("%d partner(s) flagged; human review required", rep.Flagged)}
		}
		return nil
	},
}

func printFederationReport(w io.Writer, rep *federation.Report) error {
	if ok, err := printStructured(w, rep); ok {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTNER\tSTATUS\tMERKLE ROOT\tNOTES")
	for _, r := range rep.Partners {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.PartnerID, r.Status, short(r.LastMerkleRoot), r.Notes)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, rep.Summary())
	if rep.NetworkMerkleAggregate != "" {
		fmt.Fprintf(w, "Network aggregate: %s\n", rep.NetworkMerkleAggregate)
	}
	if rep.DryRun {
		fmt.Fprintln(w, "dry run: ledger not updated")
	} else if rep.EntryID != "" {
		fmt.Fprintf(w, "Recorded as %s\n", rep.EntryID)
	}
	return nil
}
