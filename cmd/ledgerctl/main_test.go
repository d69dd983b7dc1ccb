package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/IntegrityLedger/internal/signing"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

type workspace struct {
	dir        string
	config     string
	ledgerPath string
}

// newWorkspace writes a config using a file ledger under a temp directory.
func newWorkspace(t *testing.T, partners string) *workspace {
	t.Helper()
	dir := t.TempDir()
	ws := &workspace{
		dir:        dir,
		config:     filepath.Join(dir, "ledger.yaml"),
		ledgerPath: filepath.Join(dir, "ledger.jsonl"),
	}
	partnersPath := filepath.Join(dir, "partners.yaml")
	if partners != "" {
		require.NoError(t, os.WriteFile(partnersPath, []byte(partners), 0o644))
	}
	cfg := fmt.Sprintf(`
ledger:
  backend: file
  path: %s
federation:
  partners_path: %s
  report_dir: %s
  fetch_timeout: 2s
`, ws.ledgerPath, partnersPath, filepath.Join(dir, "reports"))
	require.NoError(t, os.WriteFile(ws.config, []byte(cfg), 0o644))
	return ws
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes ledgerctl with the workspace config and returns the exit
// code with captured stdout and stderr.
func (ws *workspace) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), append([]string{"--config", ws.config}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	ws := newWorkspace(t, "")
	code, out, _ := ws.run(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "ledgerctl dev\n", out)
}

func TestUnknownFormat(t *testing.T) {
	ws := newWorkspace(t, "")
	code, _, errOut := ws.run(t, "--format", "xml", "version")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--format")
}

func TestConfigErrorExitsNonZero(t *testing.T) {
	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(),
		[]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "ledger", "verify"}, &stdout, &stderr)
	assert.NotEqual(t, 0, code)
	assert.Contains(t, stderr.String(), "config:")
}

func TestLedgerAppendListShowVerify(t *testing.T) {
	ws := newWorkspace(t, "")

	code, out, errOut := ws.run(t, "ledger", "append",
		"--type", "audit_signoff", "--author", "Governance Officer",
		"--id", "signoff-q3", "--payload", `{"title":"Q3 audit","status":"approved"}`)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Entry ID:    signoff-q3")

	code, _, errOut = ws.run(t, "ledger", "append",
		"--type", "audit_signoff", "--author", "Governance Officer", "--id", "signoff-q3")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "duplicate entry_id")

	code, out, _ = ws.run(t, "ledger", "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "signoff-q3")
	assert.Contains(t, out, "audit_signoff")

	code, out, _ = ws.run(t, "--format", "json", "ledger", "show", "signoff-q3")
	require.Equal(t, 0, code)
	var e trustledger.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &e))
	assert.Equal(t, "Governance Officer", e.Author)
	assert.Len(t, e.Hash, 64)

	code, out, _ = ws.run(t, "--format", "yaml", "ledger", "verify")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "valid: true")
	assert.Contains(t, out, "entries: 1")

	code, _, _ = ws.run(t, "ledger", "show", "nope")
	assert.Equal(t, 1, code)
}

func TestSigningPublicKeyVerifiesWithoutPrivateKey(t *testing.T) {
	ws := newWorkspace(t, "")
	keyPath := filepath.Join(ws.dir, "keys", "signing.pem")
	pubPath := filepath.Join(ws.dir, "signing.pub.pem")
	writeConfig := func(signingBlock string) {
		cfg := fmt.Sprintf("ledger:\n  backend: file\n  path: %s\nsigning:\n%s", ws.ledgerPath, signingBlock)
		require.NoError(t, os.WriteFile(ws.config, []byte(cfg), 0o644))
	}

	writeConfig(fmt.Sprintf("  enabled: true\n  key_path: %s\n  issuer: council\n", keyPath))
	code, _, errOut := ws.run(t, "ledger", "append", "--type", "audit_signoff", "--author", "ops", "--id", "signed-1")
	require.Equal(t, 0, code, errOut)

	code, out, errOut := ws.run(t, "signing", "public-key", "--out", pubPath)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, pubPath)
	pubPEM, err := os.ReadFile(pubPath)
	require.NoError(t, err)
	assert.Contains(t, string(pubPEM), "BEGIN PUBLIC KEY")

	writeConfig(fmt.Sprintf("  enabled: false\n  public_key_path: %s\n  issuer: council\n", pubPath))
	code, out, _ = ws.run(t, "ledger", "verify")
	assert.Equal(t, 0, code, out)
	assert.Contains(t, out, "OK     1 entries verified")
	assert.NotContains(t, out, "Unsigned entries")

	otherKey, err := signing.LoadOrCreateKey(filepath.Join(ws.dir, "other.pem"))
	require.NoError(t, err)
	otherPub, err := signing.NewJWTSigner(otherKey, "council").PublicKeyPEM()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pubPath, []byte(otherPub), 0o644))

	code, out, _ = ws.run(t, "ledger", "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "FAIL")
}

func TestSigningPublicKeyMissingKey(t *testing.T) {
	ws := newWorkspace(t, "")
	code, _, errOut := ws.run(t, "signing", "public-key")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "read signing key")
}

func TestLedgerAppendRejectsBadPayload(t *testing.T) {
	ws := newWorkspace(t, "")
	code, _, errOut := ws.run(t, "ledger", "append",
		"--type", "audit_signoff", "--author", "x", "--payload", "{not json")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "payload")
}

func TestLedgerVerifyDetectsTampering(t *testing.T) {
	ws := newWorkspace(t, "")
	for _, id := range []string{"a", "b", "c"} {
		code, _, errOut := ws.run(t, "ledger", "append",
			"--type", "audit_signoff", "--author", "Auditor", "--id", id,
			"--payload", `{"step":"`+id+`"}`)
		require.Equal(t, 0, code, errOut)
	}

	data, err := os.ReadFile(ws.ledgerPath)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"step":"b"`, `"step":"B"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(ws.ledgerPath, []byte(tampered), 0o644))

	code, out, _ := ws.run(t, "ledger", "verify")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "First divergence:    b")
}

func TestLedgerNormalize(t *testing.T) {
	ws := newWorkspace(t, "")
	legacy := filepath.Join(ws.dir, "legacy.jsonl")
	require.NoError(t, os.WriteFile(legacy, []byte(strings.Join([]string{
		`{"id":"eii-2024-01","entryType":"eii_baseline","timestamp":"2024-01-05T10:00:00Z","responsible":"Team","eii":88}`,
		`{"entry_id":"signoff-1","ledger_entry_type":"governance_signoff","approved_date":"2024-02-01","responsibleRoles":["Governance Officer"],"merkleRoot":"abc"}`,
		``,
	}, "\n")), 0o644))

	out := filepath.Join(ws.dir, "normalized.jsonl")
	report := filepath.Join(ws.dir, "report.json")
	code, stdout, errOut := ws.run(t, "ledger", "normalize", "--in", legacy, "--out", out, "--report", report)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, stdout, "2 records, 2 converted, 0 rejected")

	l, err := trustledger.OpenFile(out)
	require.NoError(t, err)
	rep, err := l.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Valid)
	assert.Equal(t, 2, rep.Entries)

	e, err := l.Get(context.Background(), "signoff-1")
	require.NoError(t, err)
	assert.Equal(t, trustledger.TypeAuditSignoff, e.EntryType)

	var nr trustledger.NormalizeReport
	data, err := os.ReadFile(report)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &nr))
	assert.Equal(t, 2, nr.Converted)

	code, _, _ = ws.run(t, "ledger", "normalize", "--in", legacy, "--out", out)
	assert.Equal(t, 1, code, "refuses to overwrite a non-empty ledger")
}

func TestLedgerNormalizeDryRunRejects(t *testing.T) {
	ws := newWorkspace(t, "")
	legacy := filepath.Join(ws.dir, "legacy.jsonl")
	require.NoError(t, os.WriteFile(legacy, []byte(
		`{"id":"ok","type":"audit","timestamp":"2024-01-01T00:00:00Z","author":"A"}`+"\n"+
			`{"id":"no-time","type":"audit","author":"A"}`+"\n"+
			`not json`+"\n"), 0o644))

	code, stdout, errOut := ws.run(t, "ledger", "normalize", "--in", legacy, "--dry-run")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "3 records, 1 converted, 2 rejected")
	assert.Contains(t, stdout, "dry run")
	assert.Contains(t, errOut, "line 3: invalid JSON")

	_, err := os.Stat(ws.ledgerPath)
	assert.True(t, os.IsNotExist(err), "dry run must not touch the configured ledger")
}

func TestEIIRecordAndTrend(t *testing.T) {
	ws := newWorkspace(t, "")

	code, out, errOut := ws.run(t, "eii", "record",
		"--seo", "90", "--a11y", "95", "--performance", "88", "--bundle", "100", "--commit", "abc123")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "EII:         92.9")
	assert.Contains(t, out, "A11y Clean")

	code, _, errOut = ws.run(t, "eii", "record", "--seo", "90", "--a11y", "95", "--performance", "88")
	assert.NotEqual(t, 0, code)
	assert.Contains(t, errOut, "bundle")

	code, out, errOut = ws.run(t, "eii", "record",
		"--seo", "90", "--a11y", "95", "--performance", "88", "--bundle-kb", "150")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "bundle=100.0")

	code, out, _ = ws.run(t, "--format", "json", "eii", "trend")
	require.Equal(t, 0, code)
	var trend struct {
		Snapshots []json.RawMessage `json:"snapshots"`
		Trend     *struct {
			DataPoints int `json:"data_points"`
		} `json:"trend"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &trend))
	assert.Len(t, trend.Snapshots, 2)
	require.NotNil(t, trend.Trend)
	assert.Equal(t, 2, trend.Trend.DataPoints)

	code, out, _ = ws.run(t, "eii", "trend")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "SNAPSHOT")
}

func TestEIIBundle(t *testing.T) {
	ws := newWorkspace(t, "")

	code, out, _ := ws.run(t, "eii", "bundle", "--avg-kb", "500")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Score:       0.0")

	chunks := filepath.Join(ws.dir, "chunks")
	require.NoError(t, os.MkdirAll(chunks, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chunks, "a.js"), make([]byte, 100*1024), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chunks, "b.js"), make([]byte, 100*1024), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(chunks, "a.js.map"), make([]byte, 900*1024), 0o644))

	code, out, errOut := ws.run(t, "--format", "json", "eii", "bundle", "--dir", chunks)
	require.Equal(t, 0, code, errOut)
	var res struct {
		AverageKB float64 `json:"average_kb"`
		Files     int     `json:"files"`
		Score     float64 `json:"score"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Files)
	assert.InDelta(t, 100, res.AverageKB, 0.001)
	assert.Equal(t, 100.0, res.Score)
}

func TestTrustScore(t *testing.T) {
	ws := newWorkspace(t, "")

	code, out, errOut := ws.run(t, "--format", "json", "trust", "score",
		"--verified", "--context", "--account-age-days", "90",
		"The contrast ratio on the pricing page fails WCAG 2.2 AA for the secondary buttons.")
	require.Equal(t, 0, code, errOut)
	var s struct {
		Score   float64 `json:"score"`
		Version string  `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Greater(t, s.Score, 0.5)
	assert.LessOrEqual(t, s.Score, 1.0)
	assert.NotEmpty(t, s.Version)

	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	trustScoreCmd.SetIn(strings.NewReader("   "))
	t.Cleanup(func() { trustScoreCmd.SetIn(nil) })
	code = execute(context.Background(), []string{"--config", ws.config, "trust", "score"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "message is empty")
}

func TestTrustTrendEmpty(t *testing.T) {
	ws := newWorkspace(t, "")
	code, out, _ := ws.run(t, "trust", "trend")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "no comparable trust scores")
}

func attestationServer(t *testing.T, root string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"partner_id":       "p",
			"merkle_root":      root,
			"timestamp":        time.Now().UTC().Format(time.RFC3339),
			"compliance_stage": "Stage VI",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFederationVerify(t *testing.T) {
	good := attestationServer(t, strings.Repeat("ab", 32))
	bad := attestationServer(t, "not-a-root")

	ws := newWorkspace(t, fmt.Sprintf(`
partners:
  - partner_id: good
    governance_endpoint: %s
    active: true
  - partner_id: bad
    governance_endpoint: %s
    active: true
`, good.URL, bad.URL))

	code, out, _ := ws.run(t, "federation", "verify", "--partner", "good")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Verified 1 partners. 1 valid")
	assert.Contains(t, out, "Recorded as federation-verification-")

	code, out, errOut := ws.run(t, "federation", "verify", "--dry-run")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "1 flagged")
	assert.Contains(t, out, "dry run")
	assert.Contains(t, errOut, "human review")

	code, _, errOut = ws.run(t, "federation", "verify", "--partner", "missing")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "missing")

	l, err := trustledger.OpenFile(ws.ledgerPath)
	require.NoError(t, err)
	n, err := l.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the non-dry run is recorded")
}
