// Package memory is an in-process implementation of every storage contract of
// the service, used by the test suites. The binaries always run on Postgres.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/attendance-admission/internal/audit"
	"github.com/septivank/attendance-admission/internal/device"
	"github.com/septivank/attendance-admission/internal/geo"
	"github.com/septivank/attendance-admission/internal/ledger"
	"github.com/septivank/attendance-admission/internal/meeting"
	"github.com/septivank/attendance-admission/internal/token"
)

type admissionKey struct {
	meetingID  uuid.UUID
	identityID string
}

// Store keeps all state in maps behind one mutex
type Store struct {
	mu sync.Mutex

	windows      map[uuid.UUID]meeting.Window
	tokens       map[uuid.UUID]token.Token
	tokenHistory map[uuid.UUID][]token.Token
	bindings     map[string]device.Binding
	deviceOwners map[string]string
	accepted     map[admissionKey]ledger.Record
	records      []ledger.Record
	enrollments  map[string]map[string]bool
	auditLog     map[uuid.UUID]audit.Event
}

// New creates an empty store
func New() *Store {
	return &Store{
		windows:      make(map[uuid.UUID]meeting.Window),
		tokens:       make(map[uuid.UUID]token.Token),
		tokenHistory: make(map[uuid.UUID][]token.Token),
		bindings:     make(map[string]device.Binding),
		deviceOwners: make(map[string]string),
		accepted:     make(map[admissionKey]ledger.Record),
		enrollments:  make(map[string]map[string]bool),
		auditLog:     make(map[uuid.UUID]audit.Event),
	}
}

// CreateWindow stores a new window
func (s *Store) CreateWindow(_ context.Context, w meeting.Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows[w.ID] = w
	return nil
}

// GetWindow returns meeting.ErrMeetingNotFound for unknown ids
func (s *Store) GetWindow(_ context.Context, id uuid.UUID) (meeting.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return meeting.Window{}, meeting.ErrMeetingNotFound
	}
	return w, nil
}

// MarkWindowOpen moves a scheduled window to open
func (s *Store) MarkWindowOpen(_ context.Context, id uuid.UUID, fence geo.Geofence, duration time.Duration, openedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return false, meeting.ErrMeetingNotFound
	}
	if w.Status != meeting.StatusScheduled {
		return false, nil
	}
	w.Status = meeting.StatusOpen
	w.Geofence = fence
	w.Duration = duration
	w.OpenedAt = &openedAt
	s.windows[id] = w
	return true, nil
}

// MarkWindowClosed moves an open window to closed
func (s *Store) MarkWindowClosed(_ context.Context, id uuid.UUID, closedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return false, meeting.ErrMeetingNotFound
	}
	if w.Status != meeting.StatusOpen {
		return false, nil
	}
	w.Status = meeting.StatusClosed
	w.ClosedAt = &closedAt
	s.windows[id] = w
	return true, nil
}

// ListOpenWindows returns every window in the open state
func (s *Store) ListOpenWindows(_ context.Context) ([]meeting.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []meeting.Window
	for _, w := range s.windows {
		if w.Status == meeting.StatusOpen {
			out = append(out, w)
		}
	}
	return out, nil
}

// SaveCurrentToken replaces the current token and archives the previous one.
// A known window that is not open refuses the write with token.ErrWindowNotOpen.
func (s *Store) SaveCurrentToken(_ context.Context, meetingID uuid.UUID, tok token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[meetingID]; ok && w.Status != meeting.StatusOpen {
		return token.ErrWindowNotOpen
	}
	if prev, ok := s.tokens[meetingID]; ok {
		s.tokenHistory[meetingID] = append(s.tokenHistory[meetingID], prev)
	}
	s.tokens[meetingID] = tok
	return nil
}

// RevokeCurrentToken clears the valid flag of the current token
func (s *Store) RevokeCurrentToken(_ context.Context, meetingID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok, ok := s.tokens[meetingID]; ok {
		tok.Valid = false
		s.tokens[meetingID] = tok
	}
	return nil
}

// LoadCurrentToken returns token.ErrNoToken when nothing was issued
func (s *Store) LoadCurrentToken(_ context.Context, meetingID uuid.UUID) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[meetingID]
	if !ok {
		return token.Token{}, token.ErrNoToken
	}
	return tok, nil
}

// TokenHistory returns the superseded tokens of a meeting, oldest first
func (s *Store) TokenHistory(_ context.Context, meetingID uuid.UUID) ([]token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]token.Token(nil), s.tokenHistory[meetingID]...), nil
}

// GetBinding returns device.ErrNotBound for unknown identities
func (s *Store) GetBinding(_ context.Context, identityID string) (device.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[identityID]
	if !ok {
		return device.Binding{}, device.ErrNotBound
	}
	return b, nil
}

// CreateBinding enforces one device per identity and one identity per device
func (s *Store) CreateBinding(_ context.Context, b device.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bindings[b.IdentityID]; ok {
		return device.ErrAlreadyBound
	}
	if _, ok := s.deviceOwners[b.DeviceID]; ok {
		return device.ErrAlreadyBound
	}
	s.bindings[b.IdentityID] = b
	s.deviceOwners[b.DeviceID] = b.IdentityID
	return nil
}

// InsertAcceptedIfAbsent is a conditional put keyed on (meeting, identity)
func (s *Store) InsertAcceptedIfAbsent(_ context.Context, rec ledger.Record) (bool, ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := admissionKey{meetingID: rec.MeetingID, identityID: rec.IdentityID}
	if existing, ok := s.accepted[key]; ok {
		return false, existing, nil
	}
	s.accepted[key] = rec
	s.records = append(s.records, rec)
	return true, ledger.Record{}, nil
}

// InsertRejected appends a rejected record
func (s *Store) InsertRejected(_ context.Context, rec ledger.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// FindAccepted returns ledger.ErrNotFound when the pair has no accepted record
func (s *Store) FindAccepted(_ context.Context, meetingID uuid.UUID, identityID string) (ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.accepted[admissionKey{meetingID: meetingID, identityID: identityID}]
	if !ok {
		return ledger.Record{}, ledger.ErrNotFound
	}
	return rec, nil
}

// Records returns every stored admission record of a meeting in insertion order
func (s *Store) Records(meetingID uuid.UUID) []ledger.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Record
	for _, r := range s.records {
		if r.MeetingID == meetingID {
			out = append(out, r)
		}
	}
	return out
}

// Enroll adds an identity to a course
func (s *Store) Enroll(_ context.Context, courseID, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enrollments[courseID] == nil {
		s.enrollments[courseID] = make(map[string]bool)
	}
	s.enrollments[courseID][identityID] = true
	return nil
}

// IsEnrolled reports whether the identity is enrolled in the course
func (s *Store) IsEnrolled(_ context.Context, courseID, identityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollments[courseID][identityID], nil
}

// InsertAuditEvent stores an event once per id
func (s *Store) InsertAuditEvent(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.auditLog[e.ID]; !ok {
		s.auditLog[e.ID] = e
	}
	return nil
}

// AuditEvents returns the number of archived audit events
func (s *Store) AuditEvents() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.auditLog)
}
