package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultCalendarBaseURL = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL        = "https://oauth2.googleapis.com/token"
	defaultAuthURL         = "https://accounts.google.com/o/oauth2/v2/auth"
)

type Config struct {
	BindAddress       string
	DatabasePath      string
	JWTSecret         string
	CredentialSecret  string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthRedirectURL  string
	CalendarBaseURL   string
	TokenURL          string
	AuthURL           string
	RequestTimeout    time.Duration
	Timezone          string
	LogLevel          string
}

func Load() (Config, error) {
	cfg := Config{
		BindAddress:       getenvDefault("TCS_BIND_ADDRESS", "127.0.0.1:8080"),
		DatabasePath:      getenvDefault("TCS_DATABASE_PATH", "todocal.db"),
		JWTSecret:         strings.TrimSpace(os.Getenv("TCS_JWT_SECRET")),
		CredentialSecret:  strings.TrimSpace(os.Getenv("TCS_CREDENTIAL_SECRET")),
		OAuthClientID:     strings.TrimSpace(os.Getenv("TCS_OAUTH_CLIENT_ID")),
		OAuthClientSecret: strings.TrimSpace(os.Getenv("TCS_OAUTH_CLIENT_SECRET")),
		OAuthRedirectURL:  strings.TrimSpace(os.Getenv("TCS_OAUTH_REDIRECT_URL")),
		CalendarBaseURL:   getenvDefault("TCS_CALENDAR_BASE_URL", defaultCalendarBaseURL),
		TokenURL:          getenvDefault("TCS_TOKEN_URL", defaultTokenURL),
		AuthURL:           getenvDefault("TCS_AUTH_URL", defaultAuthURL),
		RequestTimeout:    getenvDuration("TCS_REQUEST_TIMEOUT", 10*time.Second),
		Timezone:          getenvDefault("TCS_TIMEZONE", "Asia/Kolkata"),
		LogLevel:          getenvDefault("TCS_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.BindAddress == "" {
		return errors.New("bind address is required")
	}
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	if c.JWTSecret == "" {
		return errors.New("TCS_JWT_SECRET is required")
	}
	if c.CredentialSecret == "" {
		return errors.New("TCS_CREDENTIAL_SECRET is required")
	}
	if c.OAuthClientID == "" || c.OAuthClientSecret == "" {
		return errors.New("TCS_OAUTH_CLIENT_ID and TCS_OAUTH_CLIENT_SECRET are required")
	}
	if c.OAuthRedirectURL == "" {
		return errors.New("TCS_OAUTH_REDIRECT_URL is required")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be > 0")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}

// Location resolves the configured event-rendering timezone. Validate has
// already checked it parses.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenvDefault(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
