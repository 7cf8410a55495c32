package devserver_test

import (
	"context"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carimbai/api"
	"carimbai/devserver"
	"carimbai/models"
	"carimbai/scanner"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func seededStore() *devserver.MemoryStore {
	store := devserver.NewMemoryStore()
	merchantID := int64(1)
	store.PutStaff(devserver.Staff{ID: 1, Email: "staff@cafe.dev", Password: "s3cret", Role: models.RoleCashier, MerchantID: &merchantID})

	name := "Ana"
	store.PutCustomer(models.Customer{CustomerID: 1, Name: &name})

	store.PutCard(devserver.CardRecord{
		Card: models.Card{
			CardID:       42,
			ProgramID:    1,
			ProgramName:  "Coffee Club",
			MerchantName: "Cafe Central",
			RewardName:   "Free espresso",
			StampsCount:  0,
			StampsNeeded: 3,
			Status:       models.CardActive,
		},
		CustomerID: 1,
	})
	return store
}

func setup(t *testing.T, signer *devserver.Signer) (*api.Client, *devserver.MemoryStore) {
	t.Helper()
	store := seededStore()
	srv := httptest.NewServer(devserver.NewRouter(store, signer))
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL + "/api"), store
}

func login(t *testing.T, client *api.Client, locationID int64) *models.SessionContext {
	t.Helper()
	session, err := client.LoginStaff(context.Background(), "staff@cafe.dev", "s3cret")
	require.NoError(t, err)
	return session.Context(locationID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	client, _ := setup(t, devserver.NewSigner("secret", time.Minute))

	_, err := client.LoginStaff(context.Background(), "staff@cafe.dev", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestIssueAndApplyStamp(t *testing.T) {
	client, store := setup(t, devserver.NewSigner("secret", time.Minute))
	session := login(t, client, 10)

	token, err := client.IssueToken(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.KindCustomerPresentation, token.Kind)
	assert.Equal(t, int64(42), token.SubjectID)
	assert.NotEmpty(t, token.Nonce)
	assert.NotEmpty(t, token.Signature)
	assert.Greater(t, token.SecondsRemaining(time.Now()), int64(0))

	attempt := client.ApplyStamp(context.Background(), token, api.NewIdempotencyKey(token.SubjectID), session)
	require.Equal(t, models.OutcomeSuccess, attempt.Outcome, "message: %s", attempt.Message)
	assert.Equal(t, "42", attempt.CardID)
	assert.Equal(t, 1, attempt.Stamps)
	assert.Equal(t, 3, attempt.Needed)
	assert.False(t, attempt.RewardIssued)

	card, err := store.Card(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, card.StampsCount)
}

func TestDuplicateIdempotencyKeyReplays(t *testing.T) {
	client, store := setup(t, devserver.NewSigner("secret", time.Minute))
	session := login(t, client, 10)

	token, err := client.IssueToken(context.Background(), 42)
	require.NoError(t, err)

	key := api.NewIdempotencyKey(token.SubjectID)
	first := client.ApplyStamp(context.Background(), token, key, session)
	second := client.ApplyStamp(context.Background(), token, key, session)

	require.Equal(t, models.OutcomeSuccess, first.Outcome)
	require.Equal(t, models.OutcomeSuccess, second.Outcome)
	assert.Equal(t, first.Stamps, second.Stamps, "replayed response, not a second effect")

	card, err := store.Card(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, card.StampsCount, "one key, one stamp")

	// A fresh key is a fresh attempt and does stamp again.
	third := client.ApplyStamp(context.Background(), token, api.NewIdempotencyKey(token.SubjectID), session)
	require.Equal(t, models.OutcomeSuccess, third.Outcome)
	card, err = store.Card(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2, card.StampsCount)
}

func TestExpiredTokenRejected(t *testing.T) {
	// A signer with a negative TTL mints already-expired tokens.
	expired := devserver.NewSigner("secret", -time.Minute)
	store := seededStore()
	srv := httptest.NewServer(devserver.NewRouter(store, expired))
	t.Cleanup(srv.Close)
	client := api.NewClient(srv.URL + "/api")
	session := login(t, client, 10)

	token, err := client.IssueToken(context.Background(), 42)
	require.NoError(t, err)
	require.True(t, token.Expired(time.Now()))

	attempt := client.ApplyStamp(context.Background(), token, api.NewIdempotencyKey(42), session)
	assert.Equal(t, models.OutcomeInvalidToken, attempt.Outcome)
	assert.Equal(t, "token expired", attempt.Message)

	card, err := store.Card(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 0, card.StampsCount, "no mutation on a rejected token")
}

func TestTamperedTokenRejected(t *testing.T) {
	client, store := setup(t, devserver.NewSigner("secret", time.Minute))
	session := login(t, client, 10)

	token, err := client.IssueToken(context.Background(), 42)
	require.NoError(t, err)
	token.Nonce = "forged"

	attempt := client.ApplyStamp(context.Background(), token, api.NewIdempotencyKey(42), session)
	assert.Equal(t, models.OutcomeInvalidToken, attempt.Outcome)
	assert.Equal(t, "invalid token signature", attempt.Message)

	card, err := store.Card(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 0, card.StampsCount)
}

func TestStampRequiresValidSession(t *testing.T) {
	client, _ := setup(t, devserver.NewSigner("secret", time.Minute))

	token, err := client.IssueToken(context.Background(), 42)
	require.NoError(t, err)

	stale := &models.SessionContext{StaffID: 1, Role: models.RoleCashier, LocationID: 10, AuthToken: "no-such-session"}
	attempt := client.ApplyStamp(context.Background(), token, api.NewIdempotencyKey(42), stale)
	assert.Equal(t, models.OutcomeUnauthorized, attempt.Outcome)
}

func TestRewardIssueAndRedeem(t *testing.T) {
	client, store := setup(t, devserver.NewSigner("secret", time.Minute))
	session := login(t, client, 10)

	var last models.ScanAttempt
	for i := 0; i < 3; i++ {
		token, err := client.IssueToken(context.Background(), 42)
		require.NoError(t, err)
		last = client.ApplyStamp(context.Background(), token, api.NewIdempotencyKey(42), session)
		require.Equal(t, models.OutcomeSuccess, last.Outcome)
	}
	assert.Equal(t, 3, last.Stamps)
	assert.True(t, last.RewardIssued, "completing the card issues the reward")

	result, err := client.Redeem(context.Background(), session, 42)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.NotEmpty(t, result.RewardID)
	assert.Equal(t, int64(42), result.CardID)
	assert.Equal(t, 0, result.StampsAfter)

	card, err := store.Card(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, card.HasReward)
	assert.Equal(t, 0, card.StampsCount)

	_, err = client.Redeem(context.Background(), session, 42)
	require.Error(t, err, "a reward can only be redeemed once")
}

func TestCustomerLoginOrRegister(t *testing.T) {
	client, _ := setup(t, devserver.NewSigner("secret", time.Minute))

	req := models.CustomerLoginRequest{Name: "Bea", Email: "bea@example.com"}
	first, err := client.LoginOrRegisterCustomer(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Created)
	require.NotNil(t, first.Email)
	assert.Equal(t, "bea@example.com", *first.Email)

	second, err := client.LoginOrRegisterCustomer(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Created, "returning customer is recognized")
	assert.Equal(t, first.CustomerID, second.CustomerID)

	_, err = client.LoginOrRegisterCustomer(context.Background(), models.CustomerLoginRequest{Name: "anonymous"})
	require.Error(t, err, "some identifying field is required")
}

func TestCustomerCards(t *testing.T) {
	client, _ := setup(t, devserver.NewSigner("secret", time.Minute))

	cards, err := client.CustomerCards(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "Coffee Club", cards[0].ProgramName)

	cards, err = client.CustomerCards(context.Background(), 999)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

// burstSource emits the same decoded text several times in quick succession,
// like a real optical scanner holding a code in frame.
type burstSource struct {
	raw   string
	count int

	mu      sync.Mutex
	stopped int
}

func (b *burstSource) Start(emit func(string)) error {
	go func() {
		for i := 0; i < b.count; i++ {
			emit(b.raw)
			time.Sleep(5 * time.Millisecond)
		}
	}()
	return nil
}

func (b *burstSource) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped++
	return nil
}

func TestEndToEndScanAppliesExactlyOneStamp(t *testing.T) {
	client, store := setup(t, devserver.NewSigner("secret", time.Minute))
	session := login(t, client, 10)

	token, err := client.IssueToken(context.Background(), 42)
	require.NoError(t, err)

	source := &burstSource{raw: token.Encode(), count: 10}
	ctrl := scanner.New(source, client, session)
	settled := make(chan scanner.Settlement, 1)
	ctrl.OnSettle(func(s scanner.Settlement) {
		select {
		case settled <- s:
		default:
		}
	})

	require.NoError(t, ctrl.Start())

	select {
	case s := <-settled:
		require.NotNil(t, s.Result)
		assert.Equal(t, models.OutcomeSuccess, s.Result.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("attempt never settled")
	}

	// Give any straggler duplicate frames time to be dropped.
	time.Sleep(100 * time.Millisecond)

	card, err := store.Card(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 1, card.StampsCount, "a burst of duplicate decodes must apply exactly one stamp")
	assert.Len(t, ctrl.History(), 1)
}

func TestFindCustomerPrefersProviderIDOverEmail(t *testing.T) {
	store := devserver.NewMemoryStore()

	pid := "oauth-1"
	byProvider := "ByProvider"
	store.PutCustomer(models.Customer{CustomerID: 7, Name: &byProvider, ProviderID: &pid})

	email := "shared@example.com"
	byEmail := "ByEmail"
	store.PutCustomer(models.Customer{CustomerID: 2, Name: &byEmail, Email: &email})

	// Both customers match some identifier; providerId wins regardless of id order.
	got, err := store.FindCustomer(context.Background(), models.CustomerLoginRequest{
		ProviderID: pid,
		Email:      email,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.CustomerID)

	// Without a providerId match, email beats phone.
	phone := "+5511999990000"
	byPhone := "ByPhone"
	store.PutCustomer(models.Customer{CustomerID: 1, Name: &byPhone, Phone: &phone})

	got, err = store.FindCustomer(context.Background(), models.CustomerLoginRequest{
		Email: email,
		Phone: phone,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.CustomerID)
}
