package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/IntegrityLedger/internal/app"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect, verify and append to the ledger",
}

func init() {
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	ledgerCmd.AddCommand(ledgerShowCmd)
	ledgerCmd.AddCommand(ledgerAppendCmd)
	ledgerCmd.AddCommand(ledgerNormalizeCmd)

	ledgerListCmd.Flags().IntVar(&listLimit, "limit", 0, "show only the last N entries (0 = all)")
	ledgerListCmd.Flags().StringVar(&listType, "type", "", "only show entries of this type")

	ledgerAppendCmd.Flags().StringVar(&appendType, "type", "", "entry type (required)")
	ledgerAppendCmd.Flags().StringVar(&appendAuthor, "author", "", "responsible author or role (required)")
	ledgerAppendCmd.Flags().StringVar(&appendID, "id", "", "entry ID (default: derived from type and time)")
	ledgerAppendCmd.Flags().StringVar(&appendPayload, "payload", "", "payload as a JSON document")
	ledgerAppendCmd.Flags().StringVar(&appendPayloadFile, "payload-file", "", "read the payload from a JSON file")
	_ = ledgerAppendCmd.MarkFlagRequired("type")
	_ = ledgerAppendCmd.MarkFlagRequired("author")
	ledgerAppendCmd.MarkFlagsMutuallyExclusive("payload", "payload-file")

	ledgerNormalizeCmd.Flags().StringVar(&normIn, "in", "", "legacy ledger to read (required)")
	ledgerNormalizeCmd.Flags().StringVar(&normOut, "out", "", "new ledger file to write")
	ledgerNormalizeCmd.Flags().BoolVar(&normDryRun, "dry-run", false, "report issues without writing")
	ledgerNormalizeCmd.Flags().StringVar(&normReport, "report", "", "write the validation report as JSON to this file")
	_ = ledgerNormalizeCmd.MarkFlagRequired("in")
}

// ── ledger verify ────────────────────────────────────────────────────────────

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute every hash and Merkle root; exit 1 on any mismatch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Ledger.Verify(ctx)
		if err != nil {
			return fmt.Errorf("verify ledger: %w", err)
		}
		if err := printVerification(cmd.OutOrStdout(), rep); err != nil {
			return err
		}
		if !rep.Valid {
			return &exitError{code: 1}
		}
		return nil
	},
}

func printVerification(w io.Writer, rep *trustledger.VerificationReport) error {
	if ok, err := printStructured(w, rep); ok {
		return err
	}
	if rep.Valid {
		fmt.Fprintf(w, "OK     %d entries verified\n", rep.Entries)
	} else {
		fmt.Fprintf(w, "FAIL   %d entries verified before failure\n", rep.Entries)
	}
	fmt.Fprintf(w, "Root:  %s\n", rep.MerkleRoot)
	if rep.Unsigned > 0 {
		fmt.Fprintf(w, "Unsigned entries:    %d\n", rep.Unsigned)
	}
	if rep.ChronologyWarnings > 0 {
		fmt.Fprintf(w, "Chronology warnings: %d\n", rep.ChronologyWarnings)
	}
	if rep.FirstDivergence != "" {
		fmt.Fprintf(w, "First divergence:    %s\n", rep.FirstDivergence)
	}
	if rep.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", rep.Error)
	}
	return nil
}

// ── ledger list ──────────────────────────────────────────────────────────────

var (
	listLimit int
	listType  string
)

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries in append order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var entries []*trustledger.Entry
		corrupt := 0
		for e, err := range a.Ledger.Entries(ctx) {
			if err != nil {
				var ce *trustledger.CorruptEntryError
				if !errors.As(err, &ce) {
					return err
				}
				corrupt++
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
				continue
			}
			if listType != "" && string(e.EntryType) != listType {
				continue
			}
			entries = append(entries, e)
		}
		if listLimit > 0 && len(entries) > listLimit {
			entries = entries[len(entries)-listLimit:]
		}

		w := cmd.OutOrStdout()
		if ok, err := printStructured(w, entries); ok {
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ENTRY ID\tTYPE\tTIMESTAMP\tAUTHOR\tHASH\tSIGNED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.EntryID, e.EntryType, e.Timestamp.Format(time.RFC3339), e.Author, short(e.Hash), yesNo(e.Signed()))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if corrupt > 0 {
			fmt.Fprintf(w, "%d corrupt record(s) skipped; run `ledgerctl ledger verify`\n", corrupt)
		}
		return nil
	},
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// ── ledger show ──────────────────────────────────────────────────────────────

var ledgerShowCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show a single entry with its payload",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		e, err := a.Ledger.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("entry %q: %w", args[0], err)
		}
		return printEntry(cmd.OutOrStdout(), e)
	},
}

func printEntry(w io.Writer, e *trustledger.Entry) error {
	if ok, err := printStructured(w, e); ok {
		return err
	}
	fmt.Fprintf(w, "Entry ID:    %s\n", e.EntryID)
	fmt.Fprintf(w, "Type:        %s\n", e.EntryType)
	fmt.Fprintf(w, "Timestamp:   %s\n", e.Timestamp.Format(time.RFC3339Nano))
	fmt.Fprintf(w, "Author:      %s\n", e.Author)
	fmt.Fprintf(w, "Hash:        %s\n", e.Hash)
	fmt.Fprintf(w, "Merkle Root: %s\n", e.MerkleRoot)
	if e.Signature != nil {
		fmt.Fprintf(w, "Signature:   %s\n", *e.Signature)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, e.Payload, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(e.Payload)
	}
	fmt.Fprintf(w, "Payload:\n%s\n", pretty.String())
	return nil
}

// ── ledger append ────────────────────────────────────────────────────────────

var (
	appendType        string
	appendAuthor      string
	appendID          string
	appendPayload     string
	appendPayloadFile string
)

var ledgerAppendCmd = &cobra.Command{
	Use:   "append",
	Short: "Append a governance entry",
	Example: `  ledgerctl ledger append --type audit_signoff --author "Governance Officer" \
    --payload '{"title":"Q3 accessibility audit","status":"approved"}'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := []byte(appendPayload)
		if appendPayloadFile != "" {
			data, err := os.ReadFile(appendPayloadFile)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			payload = data
		}
		if len(bytes.TrimSpace(payload)) == 0 {
			payload = []byte("{}")
		}
		if !json.Valid(payload) {
			return &trustledger.ValidationError{Field: "payload", Reason: "not valid JSON"}
		}

		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		stored, err := a.Ledger.Append(ctx, &trustledger.Entry{
			EntryID:   appendID,
			EntryType: trustledger.EntryType(appendType),
			Author:    appendAuthor,
			Payload:   json.RawMessage(payload),
		})
		if err != nil {
			return err
		}
		return printEntry(cmd.OutOrStdout(), stored)
	},
}

// ── ledger normalize ─────────────────────────────────────────────────────────

var (
	normIn     string
	normOut    string
	normDryRun bool
	normReport string
)

var ledgerNormalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Convert a legacy ledger into a freshly sealed ledger",
	Long: `normalize reads a ledger written by older tooling, repairs legacy field names,
and re-appends every record into a new ledger so that hashes and Merkle roots
are recomputed. Records that cannot be repaired are reported and skipped.
Exits 1 when any record was rejected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !normDryRun && normOut == "" {
			return errors.New("--out is required unless --dry-run is set")
		}

		in, err := os.Open(normIn)
		if err != nil {
			return fmt.Errorf("open legacy ledger: %w", err)
		}
		defer in.Close()

		var out trustledger.Ledger
		if !normDryRun {
			if info, err := os.Stat(normOut); err == nil && info.Size() > 0 {
				return fmt.Errorf("%s already exists and is not empty", normOut)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			opts, err := app.SigningOptions(cfg.Signing)
			if err != nil {
				return err
			}
			fl, err := trustledger.OpenFile(normOut, opts...)
			if err != nil {
				return err
			}
			out = fl
		}

		rep, err := normalizeStream(cmd, in, out)
		if err != nil {
			return err
		}

		if normReport != "" {
			data, err := json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return err
			}
			if err := os.WriteFile(normReport, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
		}

		w := cmd.OutOrStdout()
		if ok, err := printStructured(w, rep); ok {
			if err != nil {
				return err
			}
		} else {
			for _, key := range rep.Keys() {
				for _, is := range rep.Issues[key] {
					fmt.Fprintf(w, "  %-7s %s  %s: %s\n", is.Level, key, is.Field, is.Message)
				}
			}
			fmt.Fprintf(w, "%d records, %d converted, %d rejected\n", rep.Records, rep.Converted, rep.Rejected)
			if normDryRun {
				fmt.Fprintln(w, "dry run: nothing written")
			}
		}

		if rep.Rejected > 0 {
			return &exitError{code: 1, msg: fmt.Sprintf("%d record(s) could not be normalised", rep.Rejected)}
		}
		return nil
	},
}

// normalizeStream converts each non-blank line of r. When out is nil
// records are only checked.
func normalizeStream(cmd *cobra.Command, r io.Reader, out trustledger.Ledger) (*trustledger.NormalizeReport, error) {
	ctx := cmd.Context()
	rep := &trustledger.NormalizeReport{}
	errw := cmd.ErrOrStderr()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		key := "line " + strconv.Itoa(line)

		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			rep.Note(key, nil, fmt.Errorf("invalid JSON: %w", err))
			fmt.Fprintf(errw, "  error   %s: invalid JSON\n", key)
			continue
		}

		e, issues, err := trustledger.Normalize(doc)
		if err != nil {
			rep.Note(key, nil, err)
			fmt.Fprintf(errw, "  error   %s: %v\n", key, err)
			continue
		}
		if out != nil {
			if _, err := out.Append(ctx, e); err != nil {
				rep.Note(e.EntryID, issues, err)
				fmt.Fprintf(errw, "  error   %s (%s): %v\n", key, e.EntryID, err)
				continue
			}
		}
		rep.Note(e.EntryID, issues, nil)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read legacy ledger: %w", err)
	}
	return rep, nil
}
