package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubVerifier struct {
	results []error
	calls   int
}

// Verify fails with the next queued error, or succeeds when it is nil.
func (s *stubVerifier) Verify(_ context.Context) (*trustledger.VerificationReport, error) {
	err := s.results[s.calls%len(s.results)]
	s.calls++
	if err != nil {
		return nil, err
	}
	return &trustledger.VerificationReport{Valid: true, Entries: 2, MerkleRoot: "root"}, nil
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCheck_healthyLedger(t *testing.T) {
	l := trustledger.NewMemory()
	e, _ := trustledger.NewEntry(trustledger.TypeAuditSignoff, "Auditor", map[string]string{"k": "v"})
	if _, err := l.Append(context.Background(), e); err != nil {
		t.Fatal(err)
	}

	var recorded []bool
	m := New(l, Config{}, zap.NewNop())
	m.SetMetricsRecord(func(valid bool) { recorded = append(recorded, valid) })

	if got := m.State().Status; got != StatusUnknown {
		t.Fatalf("initial status = %q, want unknown", got)
	}
	s := m.Check(context.Background())
	if s.Status != StatusHealthy || s.Entries != 1 {
		t.Errorf("state = %+v, want healthy with 1 entry", s)
	}
	if len(recorded) != 1 || !recorded[0] {
		t.Errorf("metrics = %v, want [true]", recorded)
	}
}

func TestCheck_mismatchDegradesImmediately(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l, err := trustledger.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"a", "b"} {
		e, _ := trustledger.NewEntry(trustledger.TypeAuditSignoff, "Auditor", map[string]string{"step": id})
		e.EntryID = id
		if _, err := l.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Replace(string(data), `"step":"b"`, `"step":"x"`, 1)), 0o644); err != nil {
		t.Fatal(err)
	}

	alerts := 0
	m := New(l, Config{FailThreshold: 3}, zap.NewNop())
	m.SetAlert(func(context.Context, State) { alerts++ })

	s := m.Check(context.Background())
	if s.Status != StatusDegraded {
		t.Fatalf("status = %q, want degraded", s.Status)
	}
	if s.FirstDivergence != "b" {
		t.Errorf("first divergence = %q, want b", s.FirstDivergence)
	}
	m.Check(context.Background())
	if alerts != 1 {
		t.Errorf("alerts = %d, want 1 per transition", alerts)
	}
}

func TestCheck_degradesAfterThreshold(t *testing.T) {
	boom := errors.New("connection refused")
	v := &stubVerifier{results: []error{boom}}
	m := New(v, Config{FailThreshold: 3}, zap.NewNop())

	for i := 0; i < 2; i++ {
		if s := m.Check(context.Background()); s.Status == StatusDegraded {
			t.Fatalf("degraded after %d failures", i+1)
		}
	}
	s := m.Check(context.Background())
	if s.Status != StatusDegraded {
		t.Errorf("expected degraded, got %q", s.Status)
	}
	if s.ConsecutiveFailures != 3 {
		t.Errorf("consecutive failures = %d, want 3", s.ConsecutiveFailures)
	}
}

func TestCheck_recoversOnSuccess(t *testing.T) {
	boom := errors.New("connection refused")
	v := &stubVerifier{results: []error{boom, boom, boom, nil}}
	m := New(v, Config{FailThreshold: 3}, zap.NewNop())

	// Fail 3 times, then succeed.
	for i := 0; i < 4; i++ {
		m.Check(context.Background())
	}

	s := m.State()
	if s.Status != StatusHealthy {
		t.Errorf("expected healthy after recovery, got %q", s.Status)
	}
	if s.ConsecutiveFailures != 0 || s.Error != "" {
		t.Errorf("failure state not cleared: %+v", s)
	}
}

func TestStart_stopsOnCancel(t *testing.T) {
	m := New(&stubVerifier{results: []error{nil}}, Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	cancel()
	<-done
}
