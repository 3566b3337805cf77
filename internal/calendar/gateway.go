package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nvasquez/todocal-sync/internal/domain"
)

// refreshBuffer is how close to expiry an access token may get before the
// gateway exchanges the refresh token for a new one.
const refreshBuffer = 5 * time.Minute

// CredentialStore is the slice of the link store the gateway needs for
// token lifecycle.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*domain.Credential, error)
	SaveCredential(ctx context.Context, cred domain.Credential) error
}

// MutationResult is the structured outcome of a remote event mutation.
// The gateway never reports provider failures as Go errors: callers on the
// todo path must be able to ignore them without unwinding the primary
// mutation.
type MutationResult struct {
	Success bool
	EventID string
	Err     error
}

// Gateway performs authenticated operations against the calendar provider
// on behalf of a user, hiding the OAuth token lifecycle.
type Gateway struct {
	http        *resty.Client
	baseURL     string
	tokenURL    string
	authURL     string
	clientID    string
	clientSec   string
	redirectURL string
	loc         *time.Location
	credentials CredentialStore
	log         *slog.Logger
}

type Options struct {
	BaseURL      string
	TokenURL     string
	AuthURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	Location     *time.Location
	Credentials  CredentialStore
	Logger       *slog.Logger
}

func New(opts Options) *Gateway {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		http:        resty.New().SetTimeout(timeout),
		baseURL:     opts.BaseURL,
		tokenURL:    opts.TokenURL,
		authURL:     opts.AuthURL,
		clientID:    opts.ClientID,
		clientSec:   opts.ClientSecret,
		redirectURL: opts.RedirectURL,
		loc:         loc,
		credentials: opts.Credentials,
		log:         logger,
	}
}

// EnsureValidCredential loads the user's stored credential and refreshes
// it when the access token expires within the buffer, persisting the
// refreshed tokens before returning. A nil credential with a nil error
// means "not connected" (missing, or the provider rejected the refresh);
// the caller must treat that as a reconnect signal, not a failure.
func (g *Gateway) EnsureValidCredential(ctx context.Context, userID string) (*domain.Credential, error) {
	cred, err := g.credentials.GetCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if cred == nil {
		return nil, nil
	}
	if time.Until(cred.Expiry) > refreshBuffer {
		return cred, nil
	}

	tok, err := g.refresh(ctx, cred.RefreshToken)
	if err != nil {
		g.log.Warn("token refresh rejected", "user_id", userID, "error", err)
		return nil, nil
	}

	cred.AccessToken = tok.AccessToken
	cred.Expiry = time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second)
	if tok.RefreshToken != "" {
		cred.RefreshToken = tok.RefreshToken
	}
	// Last write wins; a concurrent refresh leaves an equally valid token.
	if err := g.credentials.SaveCredential(ctx, *cred); err != nil {
		g.log.Warn("persisting refreshed credential failed", "user_id", userID, "error", err)
	}
	return cred, nil
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type eventBody struct {
	Summary string    `json:"summary"`
	Start   eventTime `json:"start"`
	End     eventTime `json:"end"`
}

type eventResponse struct {
	ID string `json:"id"`
}

// CreateEvent creates a remote event and reports the provider-assigned id.
func (g *Gateway) CreateEvent(ctx context.Context, cred *domain.Credential, title string, start, end time.Time) MutationResult {
	var created eventResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetBody(g.body(title, start, end)).
		SetResult(&created).
		Post(g.baseURL + "/calendars/primary/events")
	if err != nil {
		return MutationResult{Err: fmt.Errorf("create event: %w", err)}
	}
	if resp.IsError() {
		return MutationResult{Err: fmt.Errorf("create event: provider returned %s", resp.Status())}
	}
	return MutationResult{Success: true, EventID: created.ID}
}

// UpdateEvent rewrites a remote event's title and times in place.
func (g *Gateway) UpdateEvent(ctx context.Context, cred *domain.Credential, eventID, title string, start, end time.Time) MutationResult {
	resp, err := g.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		SetBody(g.body(title, start, end)).
		Put(g.baseURL + "/calendars/primary/events/" + eventID)
	if err != nil {
		return MutationResult{Err: fmt.Errorf("update event %s: %w", eventID, err)}
	}
	if resp.IsError() {
		return MutationResult{Err: fmt.Errorf("update event %s: provider returned %s", eventID, resp.Status())}
	}
	return MutationResult{Success: true, EventID: eventID}
}

// DeleteEvent removes a remote event.
func (g *Gateway) DeleteEvent(ctx context.Context, cred *domain.Credential, eventID string) MutationResult {
	resp, err := g.http.R().
		SetContext(ctx).
		SetAuthToken(cred.AccessToken).
		Delete(g.baseURL + "/calendars/primary/events/" + eventID)
	if err != nil {
		return MutationResult{Err: fmt.Errorf("delete event %s: %w", eventID, err)}
	}
	if resp.IsError() {
		return MutationResult{Err: fmt.Errorf("delete event %s: provider returned %s", eventID, resp.Status())}
	}
	return MutationResult{Success: true, EventID: eventID}
}

func (g *Gateway) body(title string, start, end time.Time) eventBody {
	return eventBody{
		Summary: title,
		Start:   eventTime{DateTime: start.In(g.loc).Format(time.RFC3339), TimeZone: g.loc.String()},
		End:     eventTime{DateTime: end.In(g.loc).Format(time.RFC3339), TimeZone: g.loc.String()},
	}
}
