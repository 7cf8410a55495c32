package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carimbai/models"
)

func testToken() models.TokenEnvelope {
	return models.TokenEnvelope{
		Kind:      models.KindCustomerPresentation,
		SubjectID: 42,
		Nonce:     "abc",
		ExpiresAt: time.Now().Unix() + 120,
		Signature: "x",
	}
}

func testSession() *models.SessionContext {
	return &models.SessionContext{
		StaffID:    1,
		Role:       models.RoleCashier,
		LocationID: 10,
		AuthToken:  "tok",
	}
}

func TestApplyStampSuccess(t *testing.T) {
	var calls atomic.Int64
	var gotKey, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/stamp", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "cardId": 42, "stamps": 3, "needed": 10, "rewardIssued": false,
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	attempt := client.ApplyStamp(context.Background(), testToken(), "key-1", testSession())

	assert.Equal(t, models.OutcomeSuccess, attempt.Outcome)
	assert.Equal(t, "42", attempt.CardID)
	assert.Equal(t, 3, attempt.Stamps)
	assert.Equal(t, 10, attempt.Needed)
	assert.False(t, attempt.RewardIssued)
	assert.Equal(t, int64(1), calls.Load())

	assert.Equal(t, "key-1", gotKey)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "CUSTOMER_QR", gotBody["type"])
	payload, ok := gotBody["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), payload["cardId"])
	assert.Equal(t, "abc", payload["nonce"])
	assert.Equal(t, "x", payload["sig"])
	assert.Equal(t, float64(10), gotBody["locationId"])
}

func TestApplyStampNoLocationSkipsNetwork(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	session := testSession()
	session.LocationID = 0

	attempt := NewClient(srv.URL).ApplyStamp(context.Background(), testToken(), "k", session)
	assert.Equal(t, models.OutcomeUnauthorized, attempt.Outcome)
	assert.Equal(t, models.CauseMissingLocation, attempt.Cause)
	assert.Equal(t, "no location selected", attempt.Message)
	assert.Equal(t, int64(0), calls.Load(), "no network call may be issued")
}

func TestApplyStampNoSessionSkipsNetwork(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	attempt := NewClient(srv.URL).ApplyStamp(context.Background(), testToken(), "k", nil)
	assert.Equal(t, models.OutcomeUnauthorized, attempt.Outcome)
	assert.Equal(t, models.CauseMissingSession, attempt.Cause)
	assert.Equal(t, int64(0), calls.Load())
}

func TestApplyStampClassification(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		outcome models.Outcome
		cause   models.Cause
		message string
	}{
		{"server auth failure", http.StatusUnauthorized, `{"error":"invalid or expired session"}`, models.OutcomeUnauthorized, models.CauseServerRejected, "invalid or expired session"},
		{"forbidden", http.StatusForbidden, `{"error":"wrong merchant"}`, models.OutcomeUnauthorized, models.CauseServerRejected, "wrong merchant"},
		{"expired token", http.StatusGone, `{"error":"token expired"}`, models.OutcomeInvalidToken, "", "token expired"},
		{"bad signature", http.StatusBadRequest, `{"error":"invalid token signature"}`, models.OutcomeInvalidToken, "", "invalid token signature"},
		{"unknown card", http.StatusNotFound, `{"error":"card not found"}`, models.OutcomeInvalidToken, "", "card not found"},
		{"inactive card", http.StatusConflict, `{"error":"card is not active"}`, models.OutcomeInvalidToken, "", "card is not active"},
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, models.OutcomeNetworkFailure, "", "boom"},
		{"unstructured error", http.StatusBadGateway, `upstream dead`, models.OutcomeNetworkFailure, "", "upstream dead"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			attempt := NewClient(srv.URL).ApplyStamp(context.Background(), testToken(), "k", testSession())
			assert.Equal(t, tc.outcome, attempt.Outcome)
			assert.Equal(t, tc.cause, attempt.Cause)
			assert.Equal(t, tc.message, attempt.Message)
		})
	}
}

func TestApplyStampTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	attempt := NewClient(srv.URL).ApplyStamp(context.Background(), testToken(), "k", testSession())
	assert.Equal(t, models.OutcomeNetworkFailure, attempt.Outcome)
	assert.NotEmpty(t, attempt.Message)
}

func TestApplyStampStoreKind(t *testing.T) {
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Type string `json:"type"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotType = body.Type
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "cardId": 1, "stamps": 1, "needed": 5})
	}))
	defer srv.Close()

	token := testToken()
	token.Kind = models.KindStorePresentation
	NewClient(srv.URL).ApplyStamp(context.Background(), token, "k", testSession())
	assert.Equal(t, "STORE_QR", gotType)
}

func TestIssueToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/qr/42", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"type": models.KindCustomerPresentation, "idRef": 42, "nonce": "n", "exp": 1234, "sig": "s",
		})
	}))
	defer srv.Close()

	token, err := NewClient(srv.URL).IssueToken(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), token.SubjectID)
	assert.Equal(t, int64(1234), token.ExpiresAt)
}

func TestLoginStaff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Password != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid credentials"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"token": "tok", "staffId": 9, "role": "ADMIN"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	session, err := client.LoginStaff(context.Background(), "a@b.c", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "tok", session.Token)
	assert.Equal(t, int64(9), session.StaffID)
	assert.Equal(t, models.RoleAdmin, session.Role)

	_, err = client.LoginStaff(context.Background(), "a@b.c", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}
