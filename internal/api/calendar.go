package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/nvasquez/todocal-sync/internal/domain"
	"github.com/nvasquez/todocal-sync/internal/sync"
)

type eventRequest struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type notificationRequest struct {
	Type  string       `json:"type"`
	Event domain.Event `json:"event"`
}

func (s *Server) handleAddEvent(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid json"))
	}
	ev, err := s.coord.AddEvent(c.Request().Context(), userID(c), domain.Event{
		Title: req.Title,
		Start: req.Start,
		End:   req.End,
	})
	if err != nil {
		return s.calendarError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"connected": true, "event": ev})
}

func (s *Server) handleUpdateEvent(c echo.Context) error {
	var req eventRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid json"))
	}
	ev, err := s.coord.UpdateEvent(c.Request().Context(), userID(c), domain.Event{
		ID:    c.Param("id"),
		Title: req.Title,
		Start: req.Start,
		End:   req.End,
	})
	if err != nil {
		return s.calendarError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"connected": true, "event": ev})
}

func (s *Server) handleDeleteEvent(c echo.Context) error {
	if err := s.coord.DeleteEvent(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return s.calendarError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"connected": true, "message": "event deleted"})
}

// handleNotification is the entry point for calendar-originated
// mutations. Redeliveries are safe: the coordinator treats unknown and
// already-applied event ids as no-ops.
func (s *Server) handleNotification(c echo.Context) error {
	var req notificationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid json"))
	}
	ctx := c.Request().Context()
	uid := userID(c)

	var err error
	switch req.Type {
	case "created":
		_, err = s.coord.ApplyEventCreated(ctx, uid, req.Event)
	case "updated":
		err = s.coord.ApplyEventUpdated(ctx, uid, req.Event)
	case "deleted":
		err = s.coord.ApplyEventDeleted(ctx, uid, req.Event.ID)
	default:
		return c.JSON(http.StatusBadRequest, errBody("unknown notification type"))
	}
	if err != nil {
		s.log.Error("applying calendar notification failed", "type", req.Type, "event_id", req.Event.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, errBody("internal error"))
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnect(c echo.Context) error {
	state := uuid.New().String()
	return c.JSON(http.StatusOK, map[string]string{"url": s.oauth.AuthURL(state)})
}

func (s *Server) handleOAuthCallback(c echo.Context) error {
	code := c.QueryParam("code")
	if code == "" {
		return c.JSON(http.StatusBadRequest, errBody("missing code"))
	}
	cred, err := s.oauth.ExchangeCode(c.Request().Context(), code)
	if err != nil {
		s.log.Error("oauth code exchange failed", "error", err)
		return c.JSON(http.StatusBadGateway, errBody("code exchange failed"))
	}
	cred.UserID = userID(c)
	if err := s.credentials.SaveCredential(c.Request().Context(), cred); err != nil {
		s.log.Error("saving credential failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errBody("internal error"))
	}
	return c.JSON(http.StatusOK, map[string]any{"connected": true})
}

func (s *Server) handleDisconnect(c echo.Context) error {
	if err := s.credentials.DeleteCredential(c.Request().Context(), userID(c)); err != nil {
		s.log.Error("deleting credential failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errBody("internal error"))
	}
	return c.JSON(http.StatusOK, map[string]any{"connected": false})
}

func (s *Server) handleStatus(c echo.Context) error {
	cred, err := s.credentials.GetCredential(c.Request().Context(), userID(c))
	if err != nil {
		s.log.Error("loading credential failed", "error", err)
		return c.JSON(http.StatusInternalServerError, errBody("internal error"))
	}
	return c.JSON(http.StatusOK, map[string]any{"connected": cred != nil})
}

func (s *Server) calendarError(c echo.Context, err error) error {
	if errors.Is(err, sync.ErrNotConnected) {
		return c.JSON(http.StatusUnauthorized, map[string]any{"connected": false, "needsReconnect": true})
	}
	s.log.Error("calendar request failed", "path", c.Request().URL.Path, "error", err)
	return c.JSON(http.StatusInternalServerError, errBody("calendar operation failed"))
}
