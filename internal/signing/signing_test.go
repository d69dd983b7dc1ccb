package signing_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmerrifield20/IntegrityLedger/internal/signing"
	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

const issuer = "https://governance.example.org"

func newTestSigner(t *testing.T) *signing.JWTSigner {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return signing.NewJWTSigner(key, issuer)
}

var digest = trustledger.Digest{
	EntryID:    "audit-1",
	Hash:       strings.Repeat("a", 64),
	MerkleRoot: strings.Repeat("b", 64),
}

func TestJWTSigner_roundTrip(t *testing.T) {
	s := newTestSigner(t)

	sig, err := s.Sign(context.Background(), digest)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if parts := strings.Split(sig, "."); len(parts) != 3 {
		t.Errorf("expected 3-part JWT, got %d parts", len(parts))
	}
	if err := s.VerifySignature(digest, sig); err != nil {
		t.Errorf("VerifySignature() error: %v", err)
	}
}

func TestJWTSigner_rejectsOtherDigest(t *testing.T) {
	s := newTestSigner(t)
	sig, err := s.Sign(context.Background(), digest)
	if err != nil {
		t.Fatal(err)
	}

	other := digest
	other.Hash = strings.Repeat("c", 64)
	if err := s.VerifySignature(other, sig); err == nil {
		t.Error("expected hash mismatch to fail verification")
	}

	moved := digest
	moved.EntryID = "audit-2"
	if err := s.VerifySignature(moved, sig); err == nil {
		t.Error("expected subject mismatch to fail verification")
	}
}

func TestJWTSigner_rejectsOtherKey(t *testing.T) {
	a, b := newTestSigner(t), newTestSigner(t)
	sig, err := a.Sign(context.Background(), digest)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.VerifySignature(digest, sig); err == nil {
		t.Error("expected signature from another key to fail")
	}
}

func TestNewVerifier_publicKeyOnly(t *testing.T) {
	s := newTestSigner(t)
	sig, err := s.Sign(context.Background(), digest)
	if err != nil {
		t.Fatal(err)
	}

	pubPEM, err := s.PublicKeyPEM()
	if err != nil {
		t.Fatal(err)
	}
	pub, err := signing.ParsePublicKey([]byte(pubPEM))
	if err != nil {
		t.Fatal(err)
	}
	v := signing.NewVerifier(pub, issuer)
	if err := v.VerifySignature(digest, sig); err != nil {
		t.Errorf("verifier rejected valid signature: %v", err)
	}
	if _, err := v.Sign(context.Background(), digest); err == nil {
		t.Error("verify-only signer must not sign")
	}
}

func TestLoadOrCreateKey_persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "ledger.pem")

	first, err := signing.LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	second, err := signing.LoadOrCreateKey(path)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Error("second load returned a different key")
	}
}

func TestNoop_leavesEntryUnsigned(t *testing.T) {
	l := trustledger.NewMemory(trustledger.WithSigner(signing.Noop{}))
	e, err := l.Append(context.Background(), &trustledger.Entry{
		EntryID: "x", EntryType: trustledger.TypeAuditSignoff, Author: "ops",
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Signature != nil {
		t.Errorf("expected nil signature, got %q", *e.Signature)
	}
}

func TestJWTSigner_ledgerIntegration(t *testing.T) {
	s := newTestSigner(t)
	l := trustledger.NewMemory(trustledger.WithSigner(s), trustledger.WithSignatureVerifier(s))

	for _, id := range []string{"a", "b"} {
		if _, err := l.Append(context.Background(), &trustledger.Entry{
			EntryID: id, EntryType: trustledger.TypeAuditSignoff, Author: "ops",
		}); err != nil {
			t.Fatal(err)
		}
	}
	rep, err := l.Verify(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Valid || rep.Unsigned != 0 {
		t.Errorf("unexpected report: %+v", rep)
	}
}
