package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nvasquez/todocal-sync/internal/domain"
	"github.com/nvasquez/todocal-sync/internal/store"
)

type createTodoRequest struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    domain.Priority `json:"priority"`
	Status      domain.Status   `json:"status"`
	DueDate     *time.Time      `json:"dueDate"`
}

// optionalTime distinguishes an absent dueDate field from an explicit
// null, which clears the due date and deletes the remote event.
type optionalTime struct {
	Set   bool
	Value *time.Time
}

func (o *optionalTime) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(b, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

type updateTodoRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Priority    *domain.Priority `json:"priority"`
	Status      *domain.Status   `json:"status"`
	DueDate     optionalTime     `json:"dueDate"`
}

func (r updateTodoRequest) patch() domain.TodoPatch {
	return domain.TodoPatch{
		Title:       r.Title,
		Description: r.Description,
		Priority:    r.Priority,
		Status:      r.Status,
		DueDate:     r.DueDate.Value,
		DueDateSet:  r.DueDate.Set,
	}
}

func (s *Server) handleCreateTodo(c echo.Context) error {
	var req createTodoRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid json"))
	}
	todo, err := s.coord.CreateTodo(c.Request().Context(), userID(c), domain.Todo{
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		DueDate:     req.DueDate,
	})
	if err != nil {
		return s.todoError(c, err)
	}
	return c.JSON(http.StatusCreated, todo)
}

func (s *Server) handleListTodos(c echo.Context) error {
	var status *domain.Status
	if raw := c.QueryParam("status"); raw != "" {
		st := domain.Status(raw)
		if !st.Valid() {
			return c.JSON(http.StatusBadRequest, errBody("invalid status filter"))
		}
		status = &st
	}
	todos, err := s.coord.ListTodos(c.Request().Context(), userID(c), status)
	if err != nil {
		return s.todoError(c, err)
	}
	if todos == nil {
		todos = []domain.Todo{}
	}
	return c.JSON(http.StatusOK, todos)
}

func (s *Server) handleUpcoming(c echo.Context) error {
	limit := 2
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, errBody("invalid limit"))
		}
		limit = parsed
	}
	todos, err := s.coord.Upcoming(c.Request().Context(), userID(c), limit)
	if err != nil {
		return s.todoError(c, err)
	}
	if todos == nil {
		todos = []domain.Todo{}
	}
	return c.JSON(http.StatusOK, todos)
}

func (s *Server) handleGetTodo(c echo.Context) error {
	todo, err := s.coord.GetTodo(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.todoError(c, err)
	}
	return c.JSON(http.StatusOK, todo)
}

func (s *Server) handleUpdateTodo(c echo.Context) error {
	var req updateTodoRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid json"))
	}
	patch := req.patch()
	if patch.Empty() {
		return c.JSON(http.StatusBadRequest, errBody("empty patch"))
	}
	todo, err := s.coord.UpdateTodo(c.Request().Context(), userID(c), c.Param("id"), patch)
	if err != nil {
		return s.todoError(c, err)
	}
	return c.JSON(http.StatusOK, todo)
}

func (s *Server) handleDeleteTodo(c echo.Context) error {
	if err := s.coord.DeleteTodo(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return s.todoError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "todo deleted"})
}

func (s *Server) handleToggleComplete(c echo.Context) error {
	todo, err := s.coord.ToggleComplete(c.Request().Context(), userID(c), c.Param("id"))
	if err != nil {
		return s.todoError(c, err)
	}
	return c.JSON(http.StatusOK, todo)
}

// todoError maps store sentinels onto the API's status codes. Not-owned
// deliberately maps to 401, matching the service's historical contract.
func (s *Server) todoError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrInvalid):
		return c.JSON(http.StatusBadRequest, errBody(err.Error()))
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, errBody("todo not found"))
	case errors.Is(err, store.ErrNotOwned):
		return c.JSON(http.StatusUnauthorized, errBody("not authorized for this todo"))
	default:
		s.log.Error("todo request failed", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusInternalServerError, errBody("internal error"))
	}
}
