package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"carimbai/models"
)

const defaultTimeout = 15 * time.Second

// Client talks to the loyalty backend. Host and path prefix are deployment
// configuration, not part of the contract.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// IssueToken asks the server for a fresh presentation token for a card.
func (c *Client) IssueToken(ctx context.Context, cardID int64) (models.TokenEnvelope, error) {
	var token models.TokenEnvelope
	err := c.get(ctx, fmt.Sprintf("/qr/%d", cardID), &token)
	return token, err
}

// CustomerCards lists a customer's stamp cards.
func (c *Client) CustomerCards(ctx context.Context, customerID int64) ([]models.Card, error) {
	var resp models.CustomerCardsResponse
	if err := c.get(ctx, fmt.Sprintf("/cards/customer/%d", customerID), &resp); err != nil {
		return nil, err
	}
	return resp.Cards, nil
}

// LoginStaff authenticates a staff member and returns the session to cache.
func (c *Client) LoginStaff(ctx context.Context, email, password string) (models.StaffSession, error) {
	req := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	var session models.StaffSession
	err := c.post(ctx, "/auth/login", "", req, &session)
	return session, err
}

// LoginOrRegisterCustomer logs a customer in, creating the account on first
// contact.
func (c *Client) LoginOrRegisterCustomer(ctx context.Context, req models.CustomerLoginRequest) (models.Customer, error) {
	var customer models.Customer
	err := c.post(ctx, "/customers/login-or-register", "", req, &customer)
	return customer, err
}

// Redeem consumes an earned reward on a card.
func (c *Client) Redeem(ctx context.Context, session *models.SessionContext, cardID int64) (models.RedeemResult, error) {
	if session == nil || session.AuthToken == "" {
		return models.RedeemResult{}, fmt.Errorf("redeem: no authenticated session")
	}

	req := struct {
		CardID     int64 `json:"cardId"`
		LocationID int64 `json:"locationId,omitempty"`
	}{CardID: cardID, LocationID: session.LocationID}

	var result models.RedeemResult
	err := c.post(ctx, "/redeem", session.AuthToken, req, &result)
	return result, err
}

type stampPayload struct {
	CardID int64  `json:"cardId"`
	Nonce  string `json:"nonce"`
	Exp    int64  `json:"exp"`
	Sig    string `json:"sig"`
}

type stampRequest struct {
	Type       string       `json:"type"`
	Payload    stampPayload `json:"payload"`
	LocationID int64        `json:"locationId,omitempty"`
}

type stampResponse struct {
	OK           bool  `json:"ok"`
	CardID       int64 `json:"cardId"`
	Stamps       int   `json:"stamps"`
	Needed       int   `json:"needed"`
	RewardIssued bool  `json:"rewardIssued"`
}

// ApplyStamp submits one redemption attempt. It never returns a Go error:
// every failure mode is classified into the attempt's outcome so the caller's
// state machine always settles. No retries happen here; a caller that adds
// retries must reuse the same idempotency key.
func (c *Client) ApplyStamp(ctx context.Context, token models.TokenEnvelope, key string, session *models.SessionContext) models.ScanAttempt {
	now := time.Now()

	// Fail fast before any network I/O. A missing location is an operator
	// setup problem, reported distinctly from a server-side auth rejection.
	if session == nil || session.AuthToken == "" {
		return models.ScanAttempt{Outcome: models.OutcomeUnauthorized, Cause: models.CauseMissingSession, Message: "not logged in", At: now}
	}
	if session.LocationID == 0 {
		return models.ScanAttempt{Outcome: models.OutcomeUnauthorized, Cause: models.CauseMissingLocation, Message: "no location selected", At: now}
	}

	reqBody := stampRequest{
		Type:       qrType(token.Kind),
		Payload:    stampPayload{CardID: token.SubjectID, Nonce: token.Nonce, Exp: token.ExpiresAt, Sig: token.Signature},
		LocationID: session.LocationID,
	}

	body, _ := json.Marshal(reqBody)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stamp", bytes.NewReader(body))
	if err != nil {
		return models.ScanAttempt{Outcome: models.OutcomeNetworkFailure, Message: err.Error(), At: now}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+session.AuthToken)
	req.Header.Set("Idempotency-Key", key)

	resp, err := c.http.Do(req)
	if err != nil {
		return models.ScanAttempt{Outcome: models.OutcomeNetworkFailure, Message: err.Error(), At: now}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := serverMessage(resp.Body)
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return models.ScanAttempt{Outcome: models.OutcomeUnauthorized, Cause: models.CauseServerRejected, Message: msg, At: now}
		case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusGone:
			return models.ScanAttempt{Outcome: models.OutcomeInvalidToken, Message: msg, At: now}
		default:
			return models.ScanAttempt{Outcome: models.OutcomeNetworkFailure, Message: msg, At: now}
		}
	}

	var out stampResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.ScanAttempt{Outcome: models.OutcomeNetworkFailure, Message: "unreadable server response: " + err.Error(), At: now}
	}

	return models.ScanAttempt{
		Outcome:      models.OutcomeSuccess,
		CardID:       fmt.Sprintf("%d", out.CardID),
		Stamps:       out.Stamps,
		Needed:       out.Needed,
		RewardIssued: out.RewardIssued,
		At:           now,
	}
}

// qrType maps the token's presentation kind to the stamp request type.
func qrType(kind string) string {
	if kind == models.KindStorePresentation {
		return "STORE_QR"
	}
	return "CUSTOMER_QR"
}

// serverMessage pulls the human-readable error out of a failure body.
func serverMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		msg = "server error"
	}
	return msg
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s (status %d)", req.Method, req.URL.Path, serverMessage(resp.Body), resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
