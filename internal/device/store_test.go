package device_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/septivank/attendance-admission/internal/device"
	"github.com/septivank/attendance-admission/internal/identity"
	"github.com/septivank/attendance-admission/internal/repository/memory"
	"github.com/septivank/attendance-admission/tools/clock"
)

type brokenRepo struct{}

func (brokenRepo) GetBinding(context.Context, string) (device.Binding, error) {
	return device.Binding{}, errors.New("connection reset")
}

func (brokenRepo) CreateBinding(context.Context, device.Binding) error {
	return errors.New("connection reset")
}

func newStore() (*device.Store, *memory.Store) {
	repo := memory.New()
	return device.NewStore(repo, clock.NewManual(time.Date(2025, 12, 29, 9, 0, 0, 0, time.UTC))), repo
}

func TestRegister_CreatesBinding(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	b, err := s.Register(ctx, identity.Student{ID: "stu-1", DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if b.RegisteredAt.IsZero() {
		t.Error("Expected registration time")
	}

	got, err := s.BindingFor(ctx, "stu-1")
	if err != nil {
		t.Fatalf("BindingFor returned error: %v", err)
	}
	if got != "dev-1" {
		t.Errorf("Expected dev-1, got %s", got)
	}
}

func TestRegister_OneToOne(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	_, _ = s.Register(ctx, identity.Student{ID: "stu-1", DeviceID: "dev-1"})

	if _, err := s.Register(ctx, identity.Student{ID: "stu-1", DeviceID: "dev-2"}); !errors.Is(err, device.ErrAlreadyBound) {
		t.Errorf("Expected ErrAlreadyBound for second device, got %v", err)
	}
	if _, err := s.Register(ctx, identity.Student{ID: "stu-2", DeviceID: "dev-1"}); !errors.Is(err, device.ErrAlreadyBound) {
		t.Errorf("Expected ErrAlreadyBound for shared device, got %v", err)
	}
}

func TestRegister_RequiresDevice(t *testing.T) {
	s, _ := newStore()
	if _, err := s.Register(context.Background(), identity.Student{ID: "stu-1"}); !errors.Is(err, identity.ErrMissingDevice) {
		t.Errorf("Expected ErrMissingDevice, got %v", err)
	}
}

func TestBindingFor_NotBound(t *testing.T) {
	s, _ := newStore()
	if _, err := s.BindingFor(context.Background(), "ghost"); !errors.Is(err, device.ErrNotBound) {
		t.Errorf("Expected ErrNotBound, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()
	_, _ = s.Register(ctx, identity.Student{ID: "stu-1", DeviceID: "dev-1"})

	cases := []struct {
		identityID string
		deviceID   string
		want       bool
	}{
		{"stu-1", "dev-1", true},
		{"stu-1", "dev-2", false},
		{"stu-1", "", false},
		{"stu-2", "dev-1", false},
	}

	for _, tc := range cases {
		got, err := s.Validate(ctx, tc.identityID, tc.deviceID)
		if err != nil {
			t.Fatalf("Validate(%s, %s) returned error: %v", tc.identityID, tc.deviceID, err)
		}
		if got != tc.want {
			t.Errorf("Validate(%s, %s) = %v, want %v", tc.identityID, tc.deviceID, got, tc.want)
		}
	}
}

func TestValidate_DoesNotCreateBinding(t *testing.T) {
	s, _ := newStore()
	ctx := context.Background()

	_, _ = s.Validate(ctx, "stu-9", "dev-9")

	if _, err := s.BindingFor(ctx, "stu-9"); !errors.Is(err, device.ErrNotBound) {
		t.Errorf("Expected validation to leave identity unbound, got %v", err)
	}
}

func TestValidate_RepositoryFailure(t *testing.T) {
	s := device.NewStore(brokenRepo{}, clock.System{})

	ok, err := s.Validate(context.Background(), "stu-1", "dev-1")
	if err == nil {
		t.Error("Expected error from broken repository")
	}
	if ok {
		t.Error("Expected fail-closed result")
	}
}
