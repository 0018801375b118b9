// Package calendar implements the external calendar integration described
// in spec §6: a standard OAuth 3-legged flow with refresh-on-use at <=5
// minutes pre-expiry, and best-effort event CRUD driven from
// book_appointment/cancel_appointment/reschedule_appointment (C5). Event
// failures never abort the local booking (spec §4.5).
//
// Grounded on the teacher's internal/core/auth/google_oauth.go for the
// oauth2-based credential handling idiom, generalized from ID-token
// verification to the full authorization-code + refresh-token flow via
// golang.org/x/oauth2, since the teacher has no calendar integration of
// its own to adapt directly.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// Event is the provider-agnostic shape the Client CRUD methods exchange.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Client is the external-calendar surface C5 needs. A nil Client (no
// provider configured) is valid — callers treat every method as a no-op
// best-effort failure.
type Client interface {
	CreateEvent(ctx context.Context, tokens *models.GoogleTokens, calendarID string, ev Event) (externalID string, err error)
	CancelEvent(ctx context.Context, tokens *models.GoogleTokens, calendarID, externalID string) error
	UpdateEvent(ctx context.Context, tokens *models.GoogleTokens, calendarID string, ev Event) error
}

// GoogleClient implements Client against the Google Calendar v3 REST API
// directly over net/http (rather than pulling in the full
// google.golang.org/api/calendar client), refreshing tokens via
// golang.org/x/oauth2/google when they are within 5 minutes of expiry.
type GoogleClient struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
}

// NewGoogleClient builds a client from the agent-level OAuth app
// credentials (shared across all agents using Google calendar).
func NewGoogleClient(clientID, clientSecret, redirectURL string) *GoogleClient {
	return &GoogleClient{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"https://www.googleapis.com/auth/calendar.events"},
			Endpoint:     google.Endpoint,
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ExchangeCode completes the 3-legged OAuth flow's final leg: trading an
// authorization code for access/refresh tokens (spec §6).
func (c *GoogleClient) ExchangeCode(ctx context.Context, code string) (*models.GoogleTokens, error) {
	tok, err := c.oauthConfig.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("calendar: exchange code: %w", err)
	}
	return &models.GoogleTokens{
		AccessToken:   tok.AccessToken,
		RefreshToken:  tok.RefreshToken,
		ExpiresAtUnix: tok.Expiry.Unix(),
	}, nil
}

// refreshIfNeeded refreshes tokens when within 5 minutes of expiry (spec
// §6: "refresh-on-use with <=5 min pre-expiry"), returning possibly-updated
// tokens. CreateEvent, UpdateEvent and CancelEvent use the refreshed tokens
// for their own request only and do not return them, so refreshed tokens
// are not persisted back onto the agent.
func (c *GoogleClient) refreshIfNeeded(ctx context.Context, tokens *models.GoogleTokens) (*models.GoogleTokens, error) {
	expiry := time.Unix(tokens.ExpiresAtUnix, 0)
	if time.Until(expiry) > 5*time.Minute {
		return tokens, nil
	}

	src := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: tokens.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("calendar: refresh token: %w", err)
	}

	logx.With("calendar").Info().Msg("🔄 refreshed google calendar access token")
	return &models.GoogleTokens{
		AccessToken:   fresh.AccessToken,
		RefreshToken:  tokens.RefreshToken,
		ExpiresAtUnix: fresh.Expiry.Unix(),
	}, nil
}

type gcalEventBody struct {
	Summary     string             `json:"summary"`
	Description string             `json:"description,omitempty"`
	Start       gcalEventDateTime  `json:"start"`
	End         gcalEventDateTime  `json:"end"`
}

type gcalEventDateTime struct {
	DateTime string `json:"dateTime"`
}

func (c *GoogleClient) CreateEvent(ctx context.Context, tokens *models.GoogleTokens, calendarID string, ev Event) (string, error) {
	tokens, err := c.refreshIfNeeded(ctx, tokens)
	if err != nil {
		return "", err
	}

	body := gcalEventBody{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       gcalEventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         gcalEventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}
	var created struct {
		ID string `json:"id"`
	}
	url := fmt.Sprintf("https://www.googleapis.com/calendar/v3/calendars/%s/events", calendarID)
	if err := c.do(ctx, tokens, http.MethodPost, url, body, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *GoogleClient) UpdateEvent(ctx context.Context, tokens *models.GoogleTokens, calendarID string, ev Event) error {
	tokens, err := c.refreshIfNeeded(ctx, tokens)
	if err != nil {
		return err
	}
	body := gcalEventBody{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       gcalEventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:         gcalEventDateTime{DateTime: ev.End.Format(time.RFC3339)},
	}
	url := fmt.Sprintf("https://www.googleapis.com/calendar/v3/calendars/%s/events/%s", calendarID, ev.ID)
	return c.do(ctx, tokens, http.MethodPut, url, body, nil)
}

func (c *GoogleClient) CancelEvent(ctx context.Context, tokens *models.GoogleTokens, calendarID, externalID string) error {
	tokens, err := c.refreshIfNeeded(ctx, tokens)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("https://www.googleapis.com/calendar/v3/calendars/%s/events/%s", calendarID, externalID)
	return c.do(ctx, tokens, http.MethodDelete, url, nil, nil)
}

func (c *GoogleClient) do(ctx context.Context, tokens *models.GoogleTokens, method, url string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calendar: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("calendar: google api returned status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
