package device

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/septivank/attendance-admission/internal/identity"
	"github.com/septivank/attendance-admission/tools/clock"
)

var (
	// ErrNotBound is returned when an identity has no registered device
	ErrNotBound = errors.New("device: identity has no registered device")
	// ErrAlreadyBound is returned when the identity or the device already has a binding
	ErrAlreadyBound = errors.New("device: already bound")
)

// Binding is the registered 1:1 association between an identity and its device
type Binding struct {
	IdentityID   string    `json:"identity_id"`
	DeviceID     string    `json:"device_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Repository persists bindings. CreateBinding must enforce uniqueness of both
// the identity and the device and report a collision as ErrAlreadyBound.
type Repository interface {
	GetBinding(ctx context.Context, identityID string) (Binding, error)
	CreateBinding(ctx context.Context, b Binding) error
}

// Store answers device questions for the admission pipeline
type Store struct {
	repo  Repository
	clock clock.Clock
}

// NewStore creates a device binding store
func NewStore(repo Repository, clk clock.Clock) *Store {
	return &Store{repo: repo, clock: clk}
}

// BindingFor returns the device bound to identityID
func (s *Store) BindingFor(ctx context.Context, identityID string) (string, error) {
	b, err := s.repo.GetBinding(ctx, identityID)
	if err != nil {
		return "", err
	}
	return b.DeviceID, nil
}

// Validate reports whether claimedDeviceID is the device bound to identityID.
// An identity without a binding never matches; no binding is created here.
func (s *Store) Validate(ctx context.Context, identityID, claimedDeviceID string) (bool, error) {
	if strings.TrimSpace(claimedDeviceID) == "" {
		return false, nil
	}

	bound, err := s.BindingFor(ctx, identityID)
	if errors.Is(err, ErrNotBound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read device binding: %w", err)
	}

	return subtle.ConstantTimeCompare([]byte(bound), []byte(claimedDeviceID)) == 1, nil
}

// Register binds a student to the device they signed up with
func (s *Store) Register(ctx context.Context, student identity.Student) (Binding, error) {
	if student.ID == "" {
		return Binding{}, identity.ErrMissingID
	}
	if student.DeviceID == "" {
		return Binding{}, identity.ErrMissingDevice
	}

	b := Binding{
		IdentityID:   student.ID,
		DeviceID:     student.DeviceID,
		RegisteredAt: s.clock.Now(),
	}
	if err := s.repo.CreateBinding(ctx, b); err != nil {
		if errors.Is(err, ErrAlreadyBound) {
			return Binding{}, err
		}
		return Binding{}, fmt.Errorf("failed to create device binding: %w", err)
	}

	return b, nil
}
