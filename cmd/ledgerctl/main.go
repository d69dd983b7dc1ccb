// ledgerctl is the command-line interface for the governance integrity ledger.
//
// Usage:
//
//	ledgerctl ledger verify
//	ledgerctl ledger list --limit 20
//	ledgerctl eii record --seo 90 --a11y 95 --performance 88 --bundle 100
//	ledgerctl trust score "The contrast on the pricing page fails WCAG AA."
//	ledgerctl federation verify --dry-run
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jmerrifield20/IntegrityLedger/internal/app"
	"github.com/jmerrifield20/IntegrityLedger/internal/config"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

var (
	cfgFile      string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Governance integrity ledger CLI",
	Long: `ledgerctl appends to, inspects and verifies the governance integrity ledger,
records EII snapshots, scores feedback trust and verifies federation partners.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch outputFormat {
		case "text", "json", "yaml":
			return nil
		}
		return fmt.Errorf("--format must be text, json or yaml, got %q", outputFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/ledger.yaml or ./ledger.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "o", "text", "output format: text|json|yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(eiiCmd)
	rootCmd.AddCommand(trustCmd)
	rootCmd.AddCommand(federationCmd)
	rootCmd.AddCommand(signingCmd)
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command tree and maps the outcome to a process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(stderr, "ledgerctl:", ee.msg)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "ledgerctl:", err)
	return 1
}

// exitError ends the command with a specific exit code once its output
// has been written.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("exit status %d", e.code)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "ledgerctl %s\n", version)
		return nil
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if !verbose {
		return zap.NewNop(), nil
	}
	lc := cfg.Log
	lc.Format = "console"
	return config.InitLogger(lc)
}

// openApp loads configuration and wires the ledger and services. The
// caller must Close the returned App.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// printStructured writes v as JSON or YAML and reports whether it did.
// Text output is left to the caller.
func printStructured(w io.Writer, v any) (bool, error) {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so field names follow the json tags.
		data, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}
