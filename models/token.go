package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Token kinds carried in the "type" field of a presentation token.
const (
	KindCustomerPresentation = "CUSTOMER_PRESENTATION"
	KindStorePresentation    = "STORE_PRESENTATION"
)

// TokenEnvelope is a short-lived signed presentation token, either issued by
// the server for display or recovered from an optical scan. The signature is
// opaque to the client and only verified server-side. An envelope is never
// mutated after decode and must not be reused across two redemption attempts.
type TokenEnvelope struct {
	Kind      string `json:"type"`
	SubjectID int64  `json:"idRef"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"exp"`
	Signature string `json:"sig"`
}

// DecodeError reasons.
const (
	DecodeMalformed    = "MALFORMED"
	DecodeMissingField = "MISSING_FIELD"
)

// DecodeError reports why scanned text could not be turned into a
// TokenEnvelope.
type DecodeError struct {
	Reason string
	Field  string
}

func (e *DecodeError) Error() string {
	if e.Reason == DecodeMissingField {
		return fmt.Sprintf("invalid token: missing or mistyped field %q", e.Field)
	}
	return "invalid token: not a recognizable QR payload"
}

// DecodeToken parses raw scanned text into a TokenEnvelope. All five fields
// must be present with their primitive types. Expiry is deliberately not
// checked here: decode and redemption can be separated by I/O latency, so the
// consumer judges expiry against its own clock at the moment of use.
func DecodeToken(raw string) (TokenEnvelope, error) {
	var fields struct {
		Kind      *string `json:"type"`
		SubjectID *int64  `json:"idRef"`
		Nonce     *string `json:"nonce"`
		ExpiresAt *int64  `json:"exp"`
		Signature *string `json:"sig"`
	}

	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &fields); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return TokenEnvelope{}, &DecodeError{Reason: DecodeMissingField, Field: typeErr.Field}
		}
		return TokenEnvelope{}, &DecodeError{Reason: DecodeMalformed}
	}

	switch {
	case fields.Kind == nil:
		return TokenEnvelope{}, &DecodeError{Reason: DecodeMissingField, Field: "type"}
	case fields.SubjectID == nil:
		return TokenEnvelope{}, &DecodeError{Reason: DecodeMissingField, Field: "idRef"}
	case fields.Nonce == nil:
		return TokenEnvelope{}, &DecodeError{Reason: DecodeMissingField, Field: "nonce"}
	case fields.ExpiresAt == nil:
		return TokenEnvelope{}, &DecodeError{Reason: DecodeMissingField, Field: "exp"}
	case fields.Signature == nil:
		return TokenEnvelope{}, &DecodeError{Reason: DecodeMissingField, Field: "sig"}
	}

	return TokenEnvelope{
		Kind:      *fields.Kind,
		SubjectID: *fields.SubjectID,
		Nonce:     *fields.Nonce,
		ExpiresAt: *fields.ExpiresAt,
		Signature: *fields.Signature,
	}, nil
}

// Encode serializes the envelope to the exact JSON a QR code would carry.
func (t TokenEnvelope) Encode() string {
	b, _ := json.Marshal(t)
	return string(b)
}

// SecondsRemaining reports how long the token is still presentable, never
// negative. It is recomputed from the expiry instant on every tick rather
// than decremented, so the countdown stays correct across host sleep.
func (t TokenEnvelope) SecondsRemaining(now time.Time) int64 {
	return SecondsRemaining(t.ExpiresAt, now)
}

// Expired reports whether the token's validity window has passed.
func (t TokenEnvelope) Expired(now time.Time) bool {
	return t.SecondsRemaining(now) == 0
}

// SecondsRemaining is the countdown primitive: max(0, floor(expiresAt - now)).
// The difference is taken at millisecond precision before flooring, so a
// token half a second from expiry reads 0, not 1.
func SecondsRemaining(expiresAt int64, now time.Time) int64 {
	ms := expiresAt*1000 - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return ms / 1000
}

// FormatRemaining renders a countdown as m:ss, e.g. 90 seconds as "1:30".
func FormatRemaining(seconds int64) string {
	if seconds <= 0 {
		return "0:00"
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
