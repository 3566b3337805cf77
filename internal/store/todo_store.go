package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nvasquez/todocal-sync/internal/domain"
)

// Due date ascending with nulls last, then priority descending, then
// newest first.
const todoOrder = `(due_date IS NULL) ASC, due_date ASC,
	CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END DESC,
	created_at DESC`

// CreateTodo validates and inserts a new todo, generating its id and
// timestamps. The linked event id is never set here; linking is the sync
// coordinator's job.
func (s *SQLiteStore) CreateTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	todo.Title = strings.TrimSpace(todo.Title)
	if todo.Title == "" {
		return domain.Todo{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if todo.UserID == "" {
		return domain.Todo{}, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	if todo.Priority == "" {
		todo.Priority = domain.PriorityMedium
	}
	if todo.Status == "" {
		todo.Status = domain.StatusPending
	}
	if !todo.Priority.Valid() {
		return domain.Todo{}, fmt.Errorf("%w: priority %q", ErrInvalid, todo.Priority)
	}
	if !todo.Status.Valid() {
		return domain.Todo{}, fmt.Errorf("%w: status %q", ErrInvalid, todo.Status)
	}

	now := time.Now().UTC()
	todo.ID = uuid.New().String()
	todo.CreatedAt = now
	todo.UpdatedAt = now
	todo.LinkedEventID = nil
	if todo.DueDate != nil {
		utc := todo.DueDate.UTC()
		todo.DueDate = &utc
	}
	if todo.Status == domain.StatusCompleted {
		todo.CompletedAt = &now
	} else {
		todo.CompletedAt = nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO todos (
			id, user_id, title, description, priority, status,
			due_date, linked_event_id, completed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		todo.ID, todo.UserID, todo.Title, todo.Description, todo.Priority, todo.Status,
		todo.DueDate, todo.LinkedEventID, todo.CompletedAt, todo.CreatedAt, todo.UpdatedAt,
	)
	if err != nil {
		return domain.Todo{}, fmt.Errorf("creating todo: %w", err)
	}
	return todo, nil
}

// GetTodo retrieves a todo by id, verifying the caller owns it.
func (s *SQLiteStore) GetTodo(ctx context.Context, userID, id string) (domain.Todo, error) {
	return s.getOwned(ctx, userID, id)
}

// ListTodos returns the caller's todos, optionally filtered by status.
func (s *SQLiteStore) ListTodos(ctx context.Context, userID string, status *domain.Status) ([]domain.Todo, error) {
	query := "SELECT * FROM todos WHERE user_id = ?"
	args := []interface{}{userID}
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY " + todoOrder

	var todos []domain.Todo
	if err := s.db.SelectContext(ctx, &todos, query, args...); err != nil {
		return nil, fmt.Errorf("querying todos: %w", err)
	}
	return todos, nil
}

// Upcoming returns non-completed todos with a due date at or after now,
// soonest first, capped at limit.
func (s *SQLiteStore) Upcoming(ctx context.Context, userID string, limit int) ([]domain.Todo, error) {
	if limit <= 0 {
		limit = 2
	}
	var todos []domain.Todo
	err := s.db.SelectContext(ctx, &todos, `
		SELECT * FROM todos
		WHERE user_id = ? AND status != 'completed'
			AND due_date IS NOT NULL AND due_date >= ?
		ORDER BY due_date ASC
		LIMIT ?`,
		userID, time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying upcoming todos: %w", err)
	}
	return todos, nil
}

// UpdateTodo applies a partial patch to an owned todo and returns the
// updated record. completed_at tracks status transitions.
func (s *SQLiteStore) UpdateTodo(ctx context.Context, userID, id string, patch domain.TodoPatch) (domain.Todo, error) {
	todo, err := s.getOwned(ctx, userID, id)
	if err != nil {
		return domain.Todo{}, err
	}

	if patch.Title != nil {
		todo.Title = strings.TrimSpace(*patch.Title)
		if todo.Title == "" {
			return domain.Todo{}, fmt.Errorf("%w: title is required", ErrInvalid)
		}
	}
	if patch.Description != nil {
		todo.Description = *patch.Description
	}
	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return domain.Todo{}, fmt.Errorf("%w: priority %q", ErrInvalid, *patch.Priority)
		}
		todo.Priority = *patch.Priority
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return domain.Todo{}, fmt.Errorf("%w: status %q", ErrInvalid, *patch.Status)
		}
		todo.Status = *patch.Status
	}
	if patch.DueDateSet {
		if patch.DueDate != nil {
			utc := patch.DueDate.UTC()
			todo.DueDate = &utc
		} else {
			todo.DueDate = nil
		}
	}

	now := time.Now().UTC()
	todo.UpdatedAt = now
	if todo.Status == domain.StatusCompleted && todo.CompletedAt == nil {
		todo.CompletedAt = &now
	} else if todo.Status != domain.StatusCompleted {
		todo.CompletedAt = nil
	}

	if err := s.writeTodo(ctx, todo); err != nil {
		return domain.Todo{}, err
	}
	return todo, nil
}

// ToggleComplete flips a todo between pending and completed, keeping
// completed_at coupled to the status.
func (s *SQLiteStore) ToggleComplete(ctx context.Context, userID, id string) (domain.Todo, error) {
	todo, err := s.getOwned(ctx, userID, id)
	if err != nil {
		return domain.Todo{}, err
	}

	now := time.Now().UTC()
	if todo.Status == domain.StatusCompleted {
		todo.Status = domain.StatusPending
		todo.CompletedAt = nil
	} else {
		todo.Status = domain.StatusCompleted
		todo.CompletedAt = &now
	}
	todo.UpdatedAt = now

	if err := s.writeTodo(ctx, todo); err != nil {
		return domain.Todo{}, err
	}
	return todo, nil
}

// DeleteTodo removes an owned todo.
func (s *SQLiteStore) DeleteTodo(ctx context.Context, userID, id string) error {
	if _, err := s.getOwned(ctx, userID, id); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM todos WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting todo %s: %w", id, err)
	}
	return nil
}

// SetLinkedEvent stores (or clears, with nil) the remote event id on an
// owned todo and returns the updated record.
func (s *SQLiteStore) SetLinkedEvent(ctx context.Context, userID, id string, eventID *string) (domain.Todo, error) {
	todo, err := s.getOwned(ctx, userID, id)
	if err != nil {
		return domain.Todo{}, err
	}
	todo.LinkedEventID = eventID
	todo.UpdatedAt = time.Now().UTC()
	if err := s.writeTodo(ctx, todo); err != nil {
		return domain.Todo{}, err
	}
	return todo, nil
}

// FindTodoByEvent looks up the todo linked to a remote event id, scoped to
// the owning user so one user's webhook can never touch another's todos.
func (s *SQLiteStore) FindTodoByEvent(ctx context.Context, userID, eventID string) (domain.Todo, error) {
	var todo domain.Todo
	err := s.db.GetContext(ctx, &todo,
		"SELECT * FROM todos WHERE linked_event_id = ? AND user_id = ?", eventID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Todo{}, ErrNotFound
	}
	if err != nil {
		return domain.Todo{}, fmt.Errorf("finding todo by event %s: %w", eventID, err)
	}
	return todo, nil
}

func (s *SQLiteStore) getOwned(ctx context.Context, userID, id string) (domain.Todo, error) {
	var todo domain.Todo
	err := s.db.GetContext(ctx, &todo, "SELECT * FROM todos WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Todo{}, ErrNotFound
	}
	if err != nil {
		return domain.Todo{}, fmt.Errorf("getting todo %s: %w", id, err)
	}
	if todo.UserID != userID {
		return domain.Todo{}, ErrNotOwned
	}
	return todo, nil
}

func (s *SQLiteStore) writeTodo(ctx context.Context, todo domain.Todo) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE todos SET
			title = ?, description = ?, priority = ?, status = ?,
			due_date = ?, linked_event_id = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		todo.Title, todo.Description, todo.Priority, todo.Status,
		todo.DueDate, todo.LinkedEventID, todo.CompletedAt, todo.UpdatedAt,
		todo.ID,
	)
	if err != nil {
		return fmt.Errorf("updating todo %s: %w", todo.ID, err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
