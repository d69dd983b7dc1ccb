// Package signing provides detached signatures for ledger entries.
//
// A signature is an RS256 JWT whose claims bind the entry ID to its hash and
// cumulative Merkle root, so anyone holding the public key can check a stored
// entry without contacting the signer.
package signing

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmerrifield20/IntegrityLedger/internal/trustledger"
)

// Noop leaves entries unsigned.
type Noop struct{}

// Sign implements trustledger.Signer.
func (Noop) Sign(context.Context, trustledger.Digest) (string, error) { return "", nil }

// EntryClaims are the JWT claims of an entry signature.
type EntryClaims struct {
	jwt.RegisteredClaims
	Hash       string `json:"hash"`
	MerkleRoot string `json:"merkle_root"`
}

// JWTSigner signs and verifies entry digests with an RSA key.
type JWTSigner struct {
	key    *rsa.PrivateKey
	pub    *rsa.PublicKey
	issuer string
	now    func() time.Time
}

// NewJWTSigner creates a JWTSigner. issuer becomes the "iss" claim.
func NewJWTSigner(key *rsa.PrivateKey, issuer string) *JWTSigner {
	return &JWTSigner{key: key, pub: &key.PublicKey, issuer: issuer, now: time.Now}
}

// NewVerifier creates a JWTSigner that can only verify, for peers holding
// just the public key.
func NewVerifier(pub *rsa.PublicKey, issuer string) *JWTSigner {
	return &JWTSigner{pub: pub, issuer: issuer, now: time.Now}
}

// Sign implements trustledger.Signer.
func (s *JWTSigner) Sign(_ context.Context, d trustledger.Digest) (string, error) {
	if s.key == nil {
		return "", errors.New("signing key not loaded")
	}
	claims := EntryClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  d.EntryID,
			IssuedAt: jwt.NewNumericDate(s.now().UTC()),
			ID:       uuid.New().String(),
		},
		Hash:       d.Hash,
		MerkleRoot: d.MerkleRoot,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign entry: %w", err)
	}
	return signed, nil
}

// VerifySignature implements trustledger.SignatureVerifier. Signatures do not
// expire; they are checked against the digest they claim to cover.
func (s *JWTSigner) VerifySignature(d trustledger.Digest, signature string) error {
	token, err := jwt.ParseWithClaims(
		signature,
		&EntryClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return s.pub, nil
		},
		jwt.WithIssuer(s.issuer),
		jwt.WithSubject(d.EntryID),
	)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	claims, ok := token.Claims.(*EntryClaims)
	if !ok || !token.Valid {
		return errors.New("invalid signature claims")
	}
	if claims.Hash != d.Hash {
		return fmt.Errorf("signature covers hash %s, entry has %s", claims.Hash, d.Hash)
	}
	if claims.MerkleRoot != d.MerkleRoot {
		return fmt.Errorf("signature covers merkle_root %s, entry has %s", claims.MerkleRoot, d.MerkleRoot)
	}
	return nil
}

// PublicKeyPEM returns the verification key in PKIX PEM format.
func (s *JWTSigner) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(s.pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
