package calendar

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/nvasquez/todocal-sync/internal/domain"
)

const calendarScope = "https://www.googleapis.com/auth/calendar.events"

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AuthURL builds the provider consent URL for the connect flow. The state
// value round-trips through the provider and is checked on callback.
func (g *Gateway) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_id", g.clientID)
	q.Set("redirect_uri", g.redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", calendarScope)
	q.Set("access_type", "offline")
	q.Set("prompt", "consent")
	q.Set("state", state)
	return g.authURL + "?" + q.Encode()
}

// ExchangeCode swaps an authorization code for tokens. Unlike the refresh
// path this returns a real error: the OAuth callback is a calendar-direct
// operation and its failure belongs to the caller.
func (g *Gateway) ExchangeCode(ctx context.Context, code string) (domain.Credential, error) {
	if code == "" {
		return domain.Credential{}, fmt.Errorf("authorization code is required")
	}
	var tok tokenResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "authorization_code",
			"code":          code,
			"client_id":     g.clientID,
			"client_secret": g.clientSec,
			"redirect_uri":  g.redirectURL,
		}).
		SetResult(&tok).
		Post(g.tokenURL)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("exchanging code: %w", err)
	}
	if resp.IsError() {
		return domain.Credential{}, fmt.Errorf("exchanging code: provider returned %s", resp.Status())
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		return domain.Credential{}, fmt.Errorf("exchanging code: provider returned incomplete tokens")
	}
	return domain.Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}

func (g *Gateway) refresh(ctx context.Context, refreshToken string) (tokenResponse, error) {
	var tok tokenResponse
	resp, err := g.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     g.clientID,
			"client_secret": g.clientSec,
		}).
		SetResult(&tok).
		Post(g.tokenURL)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("refreshing token: %w", err)
	}
	if resp.IsError() {
		return tokenResponse{}, fmt.Errorf("refreshing token: provider returned %s", resp.Status())
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("refreshing token: provider returned no access token")
	}
	return tok, nil
}
