package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"carimbai/api"
	"carimbai/models"
)

// State of the scan-to-stamp machine.
type State string

const (
	StateIdle       State = "IDLE"
	StateScanning   State = "SCANNING"
	StateProcessing State = "PROCESSING"
	StateSettled    State = "SETTLED"
)

// ErrBusy is returned by Start while a previous attempt has not settled.
var ErrBusy = errors.New("scanner: attempt in progress")

// StampApplier is the slice of the API client the controller needs.
type StampApplier interface {
	ApplyStamp(ctx context.Context, token models.TokenEnvelope, key string, session *models.SessionContext) models.ScanAttempt
}

// Settlement is what a settled attempt left behind: either a decode error
// (in which case no network call was made) or the attempt's result.
type Settlement struct {
	DecodeErr *models.DecodeError
	Result    *models.ScanAttempt
}

// Controller owns the scan source and serializes redemption attempts.
//
// A physical QR scan delivers a rapid stream of duplicate decode callbacks
// for the same code while it remains in frame. Without a latch each
// duplicate would mint its own idempotency key and the server, which only
// deduplicates by key, would stamp the card once per duplicate. The latch
// is therefore the primary correctness mechanism here; the idempotency key
// only protects retries of one already-accepted attempt.
type Controller struct {
	source  Source
	applier StampApplier
	session *models.SessionContext

	// onSettle, when set, is invoked after every settlement, off the lock.
	onSettle func(Settlement)

	mu          sync.Mutex
	state       State
	settled     *Settlement
	cancelApply context.CancelFunc
	history     []models.HistoryItem
}

func New(source Source, applier StampApplier, session *models.SessionContext) *Controller {
	return &Controller{
		source:  source,
		applier: applier,
		session: session,
		state:   StateIdle,
	}
}

// OnSettle registers a callback fired once per settled attempt. Must be set
// before Start.
func (c *Controller) OnSettle(fn func(Settlement)) {
	c.onSettle = fn
}

// State reports the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Settled returns the terminal display value of the last attempt, or nil
// when no attempt has settled since the last Start/Dismiss.
func (c *Controller) Settled() *Settlement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settled
}

// History returns the settled attempts of this merchant session, most recent
// first. The log is append-only and lives only as long as the controller.
func (c *Controller) History() []models.HistoryItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.HistoryItem, len(c.history))
	copy(out, c.history)
	return out
}

// ClearHistory empties the session history.
func (c *Controller) ClearHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
}

// Start acquires the scan source and begins accepting decode events. Legal
// from Idle and from Settled (which it dismisses); while an attempt is in
// flight it fails with ErrBusy.
func (c *Controller) Start() error {
	c.mu.Lock()
	switch c.state {
	case StateIdle, StateSettled:
	default:
		c.mu.Unlock()
		return ErrBusy
	}
	c.state = StateScanning
	c.settled = nil
	c.mu.Unlock()

	if err := c.source.Start(c.OnDecode); err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		return err
	}
	return nil
}

// Cancel stops scanning. While Scanning it releases the source and records
// nothing. Once Processing has begun it only requests cancellation of the
// pending network call; the latch clears on actual settlement, never on the
// cancellation request, and the outcome is still recorded.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	switch c.state {
	case StateScanning:
		c.state = StateIdle
		c.mu.Unlock()
		return c.source.Stop()
	case StateProcessing:
		cancel := c.cancelApply
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		c.mu.Unlock()
		return nil
	}
}

// Dismiss returns a settled controller to Idle.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	if c.state == StateSettled {
		c.state = StateIdle
		c.settled = nil
	}
	c.mu.Unlock()
}

// Close releases the scan source unconditionally; used on teardown.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateScanning {
		c.state = StateIdle
	}
	c.mu.Unlock()
	return c.source.Stop()
}

// OnDecode consumes one raw decode event from the source. Events arriving
// while an attempt is in flight, or while not scanning at all, are dropped
// before any state mutation.
func (c *Controller) OnDecode(raw string) {
	c.mu.Lock()
	if c.state != StateScanning {
		c.mu.Unlock()
		return
	}
	c.state = StateProcessing
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelApply = cancel
	c.mu.Unlock()

	// The network call does not need the camera held; release it now so the
	// device is free on every path to settlement. A release failure is not a
	// settlement concern, the attempt proceeds regardless.
	_ = c.source.Stop()

	token, err := models.DecodeToken(raw)
	if err != nil {
		cancel()
		var decodeErr *models.DecodeError
		if !errors.As(err, &decodeErr) {
			decodeErr = &models.DecodeError{Reason: models.DecodeMalformed}
		}
		c.settle(Settlement{DecodeErr: decodeErr})
		return
	}

	// One accepted decode, one key. The envelope is discarded after this
	// attempt; re-scanning mints a fresh attempt with a fresh key.
	key := api.NewIdempotencyKey(token.SubjectID)
	attempt := c.applier.ApplyStamp(ctx, token, key, c.session)
	cancel()
	c.settle(Settlement{Result: &attempt})
}

func (c *Controller) settle(s Settlement) {
	c.mu.Lock()
	c.state = StateSettled
	c.settled = &s
	c.cancelApply = nil
	if s.Result != nil {
		item := models.HistoryItem{
			ScanAttempt: *s.Result,
			ID:          fmt.Sprintf("%s-%d", s.Result.CardID, time.Now().UnixMilli()),
		}
		// Most recent first, written exactly once per settled attempt.
		c.history = append([]models.HistoryItem{item}, c.history...)
	}
	fn := c.onSettle
	c.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}
