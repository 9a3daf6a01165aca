package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
)

type memTokenStore struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]*oauth2.Token
	saves  int
}

func (s *memTokenStore) LoadToken(_ context.Context, userID uuid.UUID) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	if !ok {
		return nil, ErrNotConnected
	}
	return tok, nil
}

func (s *memTokenStore) SaveToken(_ context.Context, userID uuid.UUID, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = tok
	s.saves++
	return nil
}

func newTestClient(t *testing.T, handler http.Handler) (*GoogleClient, *memTokenStore, uuid.UUID) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	user := uuid.New()
	store := &memTokenStore{tokens: map[uuid.UUID]*oauth2.Token{
		user: {AccessToken: "access", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)},
	}}

	c := NewGoogleClient("id", "secret", store, time.UTC, zap.NewNop())
	c.endpoint = srv.URL + "/"
	return c, store, user
}

func TestGoogleClientCreateEvent(t *testing.T) {
	var got map[string]any
	c, store, user := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt-1"}`))
	}))

	start := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	ref, err := c.CreateEvent(context.Background(), user, Event{
		Summary: "Appointment with Dr. Asha Rao",
		Start:   start,
		End:     start.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", ref)
	assert.Equal(t, "Appointment with Dr. Asha Rao", got["summary"])
	assert.Equal(t, map[string]any{"dateTime": "2026-03-11T10:00:00Z"}, got["start"])
	assert.Zero(t, store.saves, "valid token is not re-saved")
}

func TestGoogleClientDeleteEvent(t *testing.T) {
	var deleted []string
	c, _, user := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		deleted = append(deleted, r.URL.Path)
		if r.URL.Path == "/calendars/primary/events/gone" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusGone)
			_, _ = w.Write([]byte(`{"error":{"code":410,"message":"Resource has been deleted"}}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.DeleteEvent(context.Background(), user, "evt-1"))
	require.NoError(t, c.DeleteEvent(context.Background(), user, "gone"))
	assert.Equal(t, []string{"/calendars/primary/events/evt-1", "/calendars/primary/events/gone"}, deleted)
}

func TestGoogleClientNotConnected(t *testing.T) {
	c, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}))

	_, err := c.CreateEvent(context.Background(), uuid.New(), Event{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.DeleteEvent(context.Background(), uuid.New(), "x"), ErrNotConnected)
}

func TestNoop(t *testing.T) {
	_, err := Noop{}.CreateEvent(context.Background(), uuid.New(), Event{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, Noop{}.DeleteEvent(context.Background(), uuid.New(), "x"), ErrNotConnected)
}

func TestNewGoogleClientOAuthConfig(t *testing.T) {
	c := NewGoogleClient("id", "secret", &memTokenStore{tokens: map[uuid.UUID]*oauth2.Token{}}, time.UTC, zap.NewNop())

	assert.Equal(t, google.Endpoint, c.oauth.Endpoint)
	assert.Equal(t, []string{gcal.CalendarEventsScope}, c.oauth.Scopes)
	assert.Equal(t, "id", c.oauth.ClientID)
}
