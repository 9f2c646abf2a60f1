package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValueBytes is the number of random bytes behind every token value
const ValueBytes = 32

var (
	// ErrNoToken is returned by a Store when a meeting has never been issued a token
	ErrNoToken = errors.New("token: no token issued for meeting")
	// ErrInvalidLifetime is returned when a token would expire at or before its issue time
	ErrInvalidLifetime = errors.New("token: lifetime must be positive")
	// ErrWindowNotOpen is returned by a Store when the meeting left the open state before the write
	ErrWindowNotOpen = errors.New("token: meeting window is not open")
)

// Reason explains why a candidate token was refused
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonMismatch Reason = "token_mismatch"
	ReasonExpired  Reason = "token_expired"
	ReasonRevoked  Reason = "token_revoked"
)

// Token is the proof value a claimant scans from the classroom display
type Token struct {
	Value     string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Valid     bool      `json:"valid"`
}

// UsableAt reports whether the token is valid and unexpired at now.
// now == ExpiresAt is still usable.
func (t Token) UsableAt(now time.Time) bool {
	return t.Valid && !now.After(t.ExpiresAt)
}

// Result is the outcome of validating a candidate token
type Result struct {
	Valid  bool
	Reason Reason
}

// Store persists the current token of each meeting so that it survives restarts
type Store interface {
	// SaveCurrentToken replaces the meeting's current token, retaining the superseded one for audit
	SaveCurrentToken(ctx context.Context, meetingID uuid.UUID, tok Token) error
	// RevokeCurrentToken clears the valid flag of the meeting's current token
	RevokeCurrentToken(ctx context.Context, meetingID uuid.UUID) error
	// LoadCurrentToken returns ErrNoToken when nothing was ever issued
	LoadCurrentToken(ctx context.Context, meetingID uuid.UUID) (Token, error)
}

// GenerateValue returns a hex encoded random token value
func GenerateValue() (string, error) {
	buf := make([]byte, ValueBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
