package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nvasquez/todocal-sync/internal/api"
	"github.com/nvasquez/todocal-sync/internal/auth"
	"github.com/nvasquez/todocal-sync/internal/calendar"
	"github.com/nvasquez/todocal-sync/internal/config"
	"github.com/nvasquez/todocal-sync/internal/security"
	"github.com/nvasquez/todocal-sync/internal/store"
	"github.com/nvasquez/todocal-sync/internal/sync"
)

// Application owns the wiring: store, gateway, coordinator and HTTP
// server, built from a validated Config.
type Application struct {
	cfg    config.Config
	store  *store.SQLiteStore
	server *api.Server
	logger *slog.Logger
}

func New(cfg config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath, auth.TokenCipher{Secret: cfg.CredentialSecret})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	gateway := calendar.New(calendar.Options{
		BaseURL:      cfg.CalendarBaseURL,
		TokenURL:     cfg.TokenURL,
		AuthURL:      cfg.AuthURL,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL,
		Timeout:      cfg.RequestTimeout,
		Location:     cfg.Location(),
		Credentials:  st,
		Logger:       logger,
	})

	coord := sync.New(sync.Options{
		Store:   st,
		Gateway: gateway,
		Logger:  logger,
	})

	server := api.New(api.Options{
		Coordinator: coord,
		OAuth:       gateway,
		Credentials: st,
		Verifier:    security.TokenVerifier{Secret: cfg.JWTSecret},
		Logger:      logger,
	})

	return &Application{cfg: cfg, store: st, server: server, logger: logger}, nil
}

func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.store.Close()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "bind", a.cfg.BindAddress)
		if err := a.server.Serve(ctx, a.cfg.BindAddress); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		<-errCh
		return nil
	}
}
