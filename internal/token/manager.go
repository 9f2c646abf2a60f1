package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/tools/clock"
	"go.uber.org/zap"
)

// entry holds the cached current token of one meeting. Its lock is the only
// lock taken on the validate path, so meetings never contend with each other.
type entry struct {
	mu       sync.RWMutex
	loaded   bool
	loadedAt time.Time
	present  bool
	tok      Token
}

// Manager owns the rotating proof token of every open meeting window
type Manager struct {
	store        Store
	clock        clock.Clock
	logger       *zap.Logger
	generate     func() (string, error)
	refreshAfter time.Duration
	entries      sync.Map // uuid.UUID -> *entry
}

// Option configures a Manager
type Option func(*Manager)

// WithRefreshAfter makes a cached token stale once it is older than d, so a
// rotation or revocation written by another replica is seen within d.
// Zero keeps cached tokens until this manager replaces or forgets them.
func WithRefreshAfter(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshAfter = d
	}
}

// NewManager creates a token manager writing through to store
func NewManager(store Store, clk clock.Clock, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		clock:    clk,
		logger:   logger,
		generate: GenerateValue,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) entry(meetingID uuid.UUID) *entry {
	if e, ok := m.entries.Load(meetingID); ok {
		return e.(*entry)
	}
	e, _ := m.entries.LoadOrStore(meetingID, &entry{})
	return e.(*entry)
}

// Issue generates a new current token for the meeting, making any previous token permanently unusable
func (m *Manager) Issue(ctx context.Context, meetingID uuid.UUID, lifetime time.Duration) (Token, error) {
	if lifetime <= 0 {
		return Token{}, ErrInvalidLifetime
	}

	value, err := m.generate()
	if err != nil {
		return Token{}, err
	}

	e := m.entry(meetingID)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := m.clock.Now()
	tok := Token{
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
		Valid:     true,
	}

	// the cache only changes once the store has accepted the new token
	if err := m.store.SaveCurrentToken(ctx, meetingID, tok); err != nil {
		return Token{}, fmt.Errorf("failed to save token: %w", err)
	}

	e.tok = tok
	e.present = true
	e.loaded = true
	e.loadedAt = now

	m.logger.Debug("proof token issued",
		zap.String("meeting_id", meetingID.String()),
		zap.Time("expires_at", tok.ExpiresAt),
	)

	return tok, nil
}

// Rotate replaces the current token; it is Issue under the name used by the periodic refresh
func (m *Manager) Rotate(ctx context.Context, meetingID uuid.UUID, lifetime time.Duration) (Token, error) {
	return m.Issue(ctx, meetingID, lifetime)
}

// InvalidateAll marks the meeting's current token unusable. Calling it again is a no-op.
func (m *Manager) InvalidateAll(ctx context.Context, meetingID uuid.UUID) error {
	e := m.entry(meetingID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := m.store.RevokeCurrentToken(ctx, meetingID); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	e.tok.Valid = false
	return nil
}

// Current returns the meeting's current token
func (m *Manager) Current(ctx context.Context, meetingID uuid.UUID) (Token, error) {
	tok, present, err := m.snapshot(ctx, meetingID)
	if err != nil {
		return Token{}, err
	}
	if !present {
		return Token{}, ErrNoToken
	}
	return tok, nil
}

// Validate checks candidate against the meeting's current token at now. It never mutates state.
func (m *Manager) Validate(ctx context.Context, meetingID uuid.UUID, candidate string, now time.Time) (Result, error) {
	tok, present, err := m.snapshot(ctx, meetingID)
	if err != nil {
		return Result{}, err
	}

	if !present || candidate == "" || subtle.ConstantTimeCompare([]byte(candidate), []byte(tok.Value)) != 1 {
		return Result{Reason: ReasonMismatch}, nil
	}
	if !tok.Valid {
		return Result{Reason: ReasonRevoked}, nil
	}
	if now.After(tok.ExpiresAt) {
		return Result{Reason: ReasonExpired}, nil
	}

	return Result{Valid: true}, nil
}

// fresh reports whether the entry can be served without going to the store.
// The caller holds e.mu.
func (m *Manager) fresh(e *entry, now time.Time) bool {
	if !e.loaded {
		return false
	}
	return m.refreshAfter <= 0 || now.Sub(e.loadedAt) < m.refreshAfter
}

// snapshot copies the current token out under the meeting's lock, loading it from the store on a miss or once stale
func (m *Manager) snapshot(ctx context.Context, meetingID uuid.UUID) (Token, bool, error) {
	e := m.entry(meetingID)
	now := m.clock.Now()

	e.mu.RLock()
	if m.fresh(e, now) {
		tok, present := e.tok, e.present
		e.mu.RUnlock()
		return tok, present, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if m.fresh(e, now) {
		return e.tok, e.present, nil
	}

	tok, err := m.store.LoadCurrentToken(ctx, meetingID)
	switch {
	case errors.Is(err, ErrNoToken):
		e.tok, e.present = Token{}, false
	case err != nil:
		return Token{}, false, fmt.Errorf("failed to load token: %w", err)
	default:
		e.tok, e.present = tok, true
	}
	e.loaded = true
	e.loadedAt = now

	return e.tok, e.present, nil
}

// Forget drops the cached token of a meeting; the next read goes to the store.
// Closing a window calls it so finished meetings do not stay cached.
func (m *Manager) Forget(meetingID uuid.UUID) {
	m.entries.Delete(meetingID)
}
