package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const primaryCalendar = "primary"

// GoogleClient writes events to each user's primary Google calendar using the
// token stored for that user.
type GoogleClient struct {
	oauth    *oauth2.Config
	tokens   TokenStore
	loc      *time.Location
	log      *zap.Logger
	endpoint string // overrides the API base URL in tests
}

func NewGoogleClient(clientID, clientSecret string, tokens TokenStore, loc *time.Location, log *zap.Logger) *GoogleClient {
	return &GoogleClient{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarEventsScope},
		},
		tokens: tokens,
		loc:    loc,
		log:    log,
	}
}

// service builds a calendar service for one user, refreshing and saving the
// token when it has expired.
func (c *GoogleClient) service(ctx context.Context, userID uuid.UUID) (*gcal.Service, error) {
	tok, err := c.tokens.LoadToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	src := c.oauth.TokenSource(ctx, tok)
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh calendar token: %w", err)
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := c.tokens.SaveToken(ctx, userID, fresh); err != nil {
			c.log.Warn("failed to save refreshed calendar token",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}

	opts := []option.ClientOption{option.WithTokenSource(oauth2.ReuseTokenSource(fresh, src))}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return gcal.NewService(ctx, opts...)
}

func (c *GoogleClient) eventTime(t time.Time) *gcal.EventDateTime {
	dt := &gcal.EventDateTime{DateTime: t.Format(time.RFC3339)}
	if c.loc != nil && c.loc != time.Local && c.loc != time.UTC {
		dt.TimeZone = c.loc.String()
	}
	return dt
}

func (c *GoogleClient) CreateEvent(ctx context.Context, userID uuid.UUID, ev Event) (string, error) {
	srv, err := c.service(ctx, userID)
	if err != nil {
		return "", err
	}

	created, err := srv.Events.Insert(primaryCalendar, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       c.eventTime(ev.Start),
		End:         c.eventTime(ev.End),
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert calendar event: %w", err)
	}
	return created.Id, nil
}

func (c *GoogleClient) DeleteEvent(ctx context.Context, userID uuid.UUID, ref string) error {
	srv, err := c.service(ctx, userID)
	if err != nil {
		return err
	}

	err = srv.Events.Delete(primaryCalendar, ref).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		// already gone
		if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
			return nil
		}
		return fmt.Errorf("delete calendar event: %w", err)
	}
	return nil
}
