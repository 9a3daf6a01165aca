package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

func (r Role) Valid() bool {
	return r == RoleDoctor || r == RolePatient
}

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidMobile   = errors.New("mobile number must be exactly 10 digits")
)

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsDoctor() bool  { return a.Role == RoleDoctor }
func (a Actor) IsPatient() bool { return a.Role == RolePatient }

type Profile struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Mobile    string
	Role      Role
	CreatedAt time.Time
}

// Directory resolves profiles for display names and contact addresses.
type Directory interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*Profile, error)
	ListDoctors(ctx context.Context) ([]Profile, error)
}

// ValidateMobile checks the login handle: exactly ten ASCII digits.
func ValidateMobile(mobile string) error {
	if len(mobile) != 10 {
		return ErrInvalidMobile
	}
	for i := 0; i < len(mobile); i++ {
		if mobile[i] < '0' || mobile[i] > '9' {
			return ErrInvalidMobile
		}
	}
	return nil
}

type contextKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
