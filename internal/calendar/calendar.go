package calendar

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrNotConnected means the user never linked a calendar account. Callers
// skip the user quietly.
var ErrNotConnected = errors.New("calendar not connected")

type Event struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Client mirrors bookings into a user's external calendar.
type Client interface {
	CreateEvent(ctx context.Context, userID uuid.UUID, ev Event) (string, error)
	DeleteEvent(ctx context.Context, userID uuid.UUID, ref string) error
}

// TokenStore persists per-user OAuth2 tokens.
type TokenStore interface {
	LoadToken(ctx context.Context, userID uuid.UUID) (*oauth2.Token, error)
	SaveToken(ctx context.Context, userID uuid.UUID, tok *oauth2.Token) error
}

// Noop is used when no calendar credentials are configured.
type Noop struct{}

func (Noop) CreateEvent(context.Context, uuid.UUID, Event) (string, error) {
	return "", ErrNotConnected
}

func (Noop) DeleteEvent(context.Context, uuid.UUID, string) error {
	return ErrNotConnected
}
