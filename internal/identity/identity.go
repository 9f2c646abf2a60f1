package identity

import (
	"errors"
	"strings"
)

var (
	// ErrMissingID is returned when an identity carries no identifier
	ErrMissingID = errors.New("identity: missing id")
	// ErrMissingDevice is returned when a student identity carries no device id
	ErrMissingDevice = errors.New("identity: student requires a device id")
	// ErrUnknownRole is returned for roles outside student, teacher, admin
	ErrUnknownRole = errors.New("identity: unknown role")
)

// Kind tags the identity variant
type Kind string

const (
	KindStudent Kind = "student"
	KindStaff   Kind = "staff"
)

// Role is the staff role supplied by the identity provider
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Identity is the authenticated caller. The set of implementations is closed:
// a Student always carries the device it registered with, Staff never does.
type Identity interface {
	IdentityID() string
	Kind() Kind
	sealed()
}

// Student is a claimant bound to one registered device
type Student struct {
	ID       string
	DeviceID string
}

func (s Student) IdentityID() string { return s.ID }
func (s Student) Kind() Kind         { return KindStudent }
func (Student) sealed()              {}

// Staff is a teacher or administrator who opens and closes meeting windows
type Staff struct {
	ID   string
	Role Role
}

func (s Staff) IdentityID() string { return s.ID }
func (s Staff) Kind() Kind         { return KindStaff }
func (Staff) sealed()              {}

// IsAdmin reports whether the staff member may act on windows they did not open
func (s Staff) IsAdmin() bool { return s.Role == RoleAdmin }

// New builds the identity variant from the flat role/device pair supplied by the authenticator
func New(id, role, deviceID string) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrMissingID
	}

	switch strings.ToLower(strings.TrimSpace(role)) {
	case "student":
		deviceID = strings.TrimSpace(deviceID)
		if deviceID == "" {
			return nil, ErrMissingDevice
		}
		return Student{ID: id, DeviceID: deviceID}, nil
	case string(RoleTeacher):
		return Staff{ID: id, Role: RoleTeacher}, nil
	case string(RoleAdmin):
		return Staff{ID: id, Role: RoleAdmin}, nil
	default:
		return nil, ErrUnknownRole
	}
}
