package models

import "time"

// Outcome classifies a settled redemption attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "SUCCESS"
	OutcomeInvalidToken   Outcome = "INVALID_TOKEN"
	OutcomeUnauthorized   Outcome = "UNAUTHORIZED"
	OutcomeNetworkFailure Outcome = "NETWORK_FAILURE"
)

// Cause narrows an UNAUTHORIZED outcome so callers can tell a local
// precondition failure from a server-side rejection without parsing the
// message text.
type Cause string

const (
	CauseMissingSession  Cause = "MISSING_SESSION"
	CauseMissingLocation Cause = "MISSING_LOCATION"
	CauseServerRejected  Cause = "SERVER_REJECTED"
)

// ScanAttempt is the immutable record of one redemption attempt. Exactly one
// is produced per accepted decode that reaches the network; it is appended to
// the merchant session's history and never mutated afterwards.
type ScanAttempt struct {
	Outcome      Outcome   `json:"outcome"`
	Cause        Cause     `json:"cause,omitempty"`
	CardID       string    `json:"cardId"`
	Stamps       int       `json:"stamps"`
	Needed       int       `json:"needed"`
	RewardIssued bool      `json:"rewardIssued"`
	Message      string    `json:"message,omitempty"`
	At           time.Time `json:"at"`
}

// HistoryItem is a ScanAttempt with a display identity, kept for the lifetime
// of the merchant session only.
type HistoryItem struct {
	ScanAttempt
	ID string `json:"id"`
}
