package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/nvasquez/todocal-sync/internal/domain"
	"github.com/nvasquez/todocal-sync/internal/security"
	"github.com/nvasquez/todocal-sync/internal/sync"
)

// OAuthFlow is the connect/callback slice of the calendar gateway.
type OAuthFlow interface {
	AuthURL(state string) string
	ExchangeCode(ctx context.Context, code string) (domain.Credential, error)
}

// CredentialStore is the slice of the link store the OAuth endpoints use.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*domain.Credential, error)
	SaveCredential(ctx context.Context, cred domain.Credential) error
	DeleteCredential(ctx context.Context, userID string) error
}

type Server struct {
	coord       *sync.Coordinator
	oauth       OAuthFlow
	credentials CredentialStore
	verifier    security.TokenVerifier
	log         *slog.Logger
	echo        *echo.Echo
}

type Options struct {
	Coordinator *sync.Coordinator
	OAuth       OAuthFlow
	Credentials CredentialStore
	Verifier    security.TokenVerifier
	Logger      *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		coord:       opts.Coordinator,
		oauth:       opts.OAuth,
		credentials: opts.Credentials,
		verifier:    opts.Verifier,
		log:         logger,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(s.requestLogger)

	e.GET("/healthz", s.handleHealth)

	authed := e.Group("", s.requireUser)
	authed.POST("/todos", s.handleCreateTodo)
	authed.GET("/todos", s.handleListTodos)
	authed.GET("/todos/upcoming", s.handleUpcoming)
	authed.GET("/todos/:id", s.handleGetTodo)
	authed.PUT("/todos/:id", s.handleUpdateTodo)
	authed.DELETE("/todos/:id", s.handleDeleteTodo)
	authed.PUT("/todos/:id/complete", s.handleToggleComplete)

	authed.POST("/calendar/events", s.handleAddEvent)
	authed.PUT("/calendar/events/:id", s.handleUpdateEvent)
	authed.DELETE("/calendar/events/:id", s.handleDeleteEvent)
	authed.POST("/calendar/notifications", s.handleNotification)
	authed.GET("/calendar/connect", s.handleConnect)
	authed.GET("/calendar/oauth/callback", s.handleOAuthCallback)
	authed.DELETE("/calendar/connection", s.handleDisconnect)
	authed.GET("/calendar/status", s.handleStatus)

	s.echo = e
	return s
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, bind string) error {
	if bind == "" {
		return errors.New("bind required")
	}
	go func() {
		<-ctx.Done()
		timeout, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(timeout)
	}()
	if err := s.echo.Start(bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

const userIDKey = "userID"

func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := s.verifier.UserID(c.Request())
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errBody("unauthorized"))
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Info("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration", time.Since(start),
		)
		return err
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func userID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func errBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
