package devserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"carimbai/models"
)

// Signer issues and verifies presentation tokens. Signing lives entirely on
// the server; clients carry the signature as an opaque string.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl}
}

// TTL reports the validity window given to issued tokens.
func (s *Signer) TTL() time.Duration {
	return s.ttl
}

// Issue builds a fresh presentation token for a card.
func (s *Signer) Issue(kind string, cardID int64, now time.Time) models.TokenEnvelope {
	nonce := uuid.NewString()
	exp := now.Add(s.ttl).Unix()
	return models.TokenEnvelope{
		Kind:      kind,
		SubjectID: cardID,
		Nonce:     nonce,
		ExpiresAt: exp,
		Signature: s.sign(kind, cardID, nonce, exp),
	}
}

// Verify checks a redemption payload's signature against the token fields.
func (s *Signer) Verify(kind string, cardID int64, nonce string, exp int64, sig string) bool {
	want := s.sign(kind, cardID, nonce, exp)
	return hmac.Equal([]byte(want), []byte(sig))
}

func (s *Signer) sign(kind string, cardID int64, nonce string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d|%s|%d", kind, cardID, nonce, exp)
	return hex.EncodeToString(mac.Sum(nil))
}
