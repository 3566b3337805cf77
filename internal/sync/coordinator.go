// Package sync keeps todos and remote calendar events mirroring each
// other. The contract throughout: the primary mutation (the one the user
// invoked) succeeds or fails on its own; the secondary calendar action is
// best-effort and its failures are logged, never propagated.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nvasquez/todocal-sync/internal/calendar"
	"github.com/nvasquez/todocal-sync/internal/domain"
	"github.com/nvasquez/todocal-sync/internal/store"
)

// ErrNotConnected reports that a calendar-direct operation has no usable
// credential. Todo-path sync never returns it; it skips instead.
var ErrNotConnected = errors.New("calendar not connected")

// eventDuration is the fixed length of a synced event. No all-day or
// custom-duration support.
const eventDuration = time.Hour

// LinkStore is the slice of the link store the coordinator drives.
type LinkStore interface {
	CreateTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error)
	GetTodo(ctx context.Context, userID, id string) (domain.Todo, error)
	ListTodos(ctx context.Context, userID string, status *domain.Status) ([]domain.Todo, error)
	Upcoming(ctx context.Context, userID string, limit int) ([]domain.Todo, error)
	UpdateTodo(ctx context.Context, userID, id string, patch domain.TodoPatch) (domain.Todo, error)
	DeleteTodo(ctx context.Context, userID, id string) error
	ToggleComplete(ctx context.Context, userID, id string) (domain.Todo, error)
	SetLinkedEvent(ctx context.Context, userID, id string, eventID *string) (domain.Todo, error)
	FindTodoByEvent(ctx context.Context, userID, eventID string) (domain.Todo, error)
}

// Gateway is the calendar boundary the coordinator calls through.
type Gateway interface {
	EnsureValidCredential(ctx context.Context, userID string) (*domain.Credential, error)
	CreateEvent(ctx context.Context, cred *domain.Credential, title string, start, end time.Time) calendar.MutationResult
	UpdateEvent(ctx context.Context, cred *domain.Credential, eventID, title string, start, end time.Time) calendar.MutationResult
	DeleteEvent(ctx context.Context, cred *domain.Credential, eventID string) calendar.MutationResult
}

type Coordinator struct {
	store LinkStore
	gw    Gateway
	log   *slog.Logger
	locks *keyedMutex
}

type Options struct {
	Store   LinkStore
	Gateway Gateway
	Logger  *slog.Logger
}

func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store: opts.Store,
		gw:    opts.Gateway,
		log:   logger,
		locks: newKeyedMutex(),
	}
}

// CreateTodo persists the todo, then best-effort creates a linked remote
// event when a due date is present.
func (c *Coordinator) CreateTodo(ctx context.Context, userID string, todo domain.Todo) (domain.Todo, error) {
	todo.UserID = userID
	created, err := c.store.CreateTodo(ctx, todo)
	if err != nil {
		return domain.Todo{}, err
	}
	if created.DueDate == nil {
		return created, nil
	}

	unlock := c.locks.lock(created.ID)
	defer unlock()
	return c.createLinkedEvent(ctx, created), nil
}

// UpdateTodo applies the patch, then reconciles the remote event against
// the (prior link, new due date) state.
func (c *Coordinator) UpdateTodo(ctx context.Context, userID, id string, patch domain.TodoPatch) (domain.Todo, error) {
	unlock := c.locks.lock(id)
	defer unlock()

	prior, err := c.store.GetTodo(ctx, userID, id)
	if err != nil {
		return domain.Todo{}, err
	}
	titleChanged := patch.Title != nil && *patch.Title != prior.Title
	dueDateChanged := patch.DueDateSet && !equalTimes(patch.DueDate, prior.DueDate)

	updated, err := c.store.UpdateTodo(ctx, userID, id, patch)
	if err != nil {
		return domain.Todo{}, err
	}
	if !titleChanged && !dueDateChanged {
		return updated, nil
	}

	switch {
	case prior.LinkedEventID != nil && updated.DueDate != nil:
		cred := c.credential(ctx, userID)
		if cred == nil {
			return updated, nil
		}
		res := c.gw.UpdateEvent(ctx, cred, *prior.LinkedEventID, updated.Title,
			*updated.DueDate, updated.DueDate.Add(eventDuration))
		if !res.Success {
			c.log.Warn("calendar sync: update event failed",
				"todo_id", id, "event_id", *prior.LinkedEventID, "error", res.Err)
		}
		return updated, nil

	case prior.LinkedEventID == nil && updated.DueDate != nil && dueDateChanged:
		return c.createLinkedEvent(ctx, updated), nil

	case prior.LinkedEventID != nil && updated.DueDate == nil:
		cred := c.credential(ctx, userID)
		if cred == nil {
			return updated, nil
		}
		res := c.gw.DeleteEvent(ctx, cred, *prior.LinkedEventID)
		if !res.Success {
			c.log.Warn("calendar sync: delete event failed",
				"todo_id", id, "event_id", *prior.LinkedEventID, "error", res.Err)
			return updated, nil
		}
		unlinked, err := c.store.SetLinkedEvent(ctx, userID, id, nil)
		if err != nil {
			c.log.Warn("calendar sync: clearing link failed", "todo_id", id, "error", err)
			return updated, nil
		}
		return unlinked, nil
	}
	return updated, nil
}

// DeleteTodo removes the todo; a linked remote event is deleted
// best-effort first and never blocks the deletion.
func (c *Coordinator) DeleteTodo(ctx context.Context, userID, id string) error {
	unlock := c.locks.lock(id)
	defer unlock()

	todo, err := c.store.GetTodo(ctx, userID, id)
	if err != nil {
		return err
	}
	if todo.LinkedEventID != nil {
		if cred := c.credential(ctx, userID); cred != nil {
			if res := c.gw.DeleteEvent(ctx, cred, *todo.LinkedEventID); !res.Success {
				c.log.Warn("calendar sync: delete event failed",
					"todo_id", id, "event_id", *todo.LinkedEventID, "error", res.Err)
			}
		}
	}
	return c.store.DeleteTodo(ctx, userID, id)
}

// ToggleComplete flips completion. Completion is local-only state; the
// calendar link is untouched.
func (c *Coordinator) ToggleComplete(ctx context.Context, userID, id string) (domain.Todo, error) {
	return c.store.ToggleComplete(ctx, userID, id)
}

func (c *Coordinator) GetTodo(ctx context.Context, userID, id string) (domain.Todo, error) {
	return c.store.GetTodo(ctx, userID, id)
}

func (c *Coordinator) ListTodos(ctx context.Context, userID string, status *domain.Status) ([]domain.Todo, error) {
	return c.store.ListTodos(ctx, userID, status)
}

func (c *Coordinator) Upcoming(ctx context.Context, userID string, limit int) ([]domain.Todo, error) {
	return c.store.Upcoming(ctx, userID, limit)
}

// ApplyEventCreated mirrors a calendar-side creation into a new todo.
// Redelivered notifications are no-ops: a todo already linked to the event
// id is returned unchanged, so link uniqueness holds.
func (c *Coordinator) ApplyEventCreated(ctx context.Context, userID string, ev domain.Event) (domain.Todo, error) {
	existing, err := c.store.FindTodoByEvent(ctx, userID, ev.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Todo{}, err
	}

	start := ev.Start
	created, err := c.store.CreateTodo(ctx, domain.Todo{
		UserID:   userID,
		Title:    ev.Title,
		Priority: domain.PriorityMedium,
		Status:   domain.StatusPending,
		DueDate:  &start,
	})
	if err != nil {
		return domain.Todo{}, err
	}
	linked, err := c.store.SetLinkedEvent(ctx, userID, created.ID, &ev.ID)
	if err != nil {
		return domain.Todo{}, fmt.Errorf("linking todo %s to event %s: %w", created.ID, ev.ID, err)
	}
	return linked, nil
}

// ApplyEventUpdated mirrors a calendar-side edit onto the linked todo.
// No linked todo means nothing to do.
func (c *Coordinator) ApplyEventUpdated(ctx context.Context, userID string, ev domain.Event) error {
	todo, err := c.store.FindTodoByEvent(ctx, userID, ev.ID)
	if errors.Is(err, store.ErrNotFound) {
		c.log.Info("calendar sync: updated event has no linked todo", "event_id", ev.ID)
		return nil
	}
	if err != nil {
		return err
	}

	unlock := c.locks.lock(todo.ID)
	defer unlock()
	start := ev.Start
	_, err = c.store.UpdateTodo(ctx, userID, todo.ID, domain.TodoPatch{
		Title:      &ev.Title,
		DueDate:    &start,
		DueDateSet: true,
	})
	return err
}

// ApplyEventDeleted cascades a calendar-side deletion to the linked todo.
func (c *Coordinator) ApplyEventDeleted(ctx context.Context, userID, eventID string) error {
	todo, err := c.store.FindTodoByEvent(ctx, userID, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock := c.locks.lock(todo.ID)
	defer unlock()
	return c.store.DeleteTodo(ctx, userID, todo.ID)
}

// AddEvent is the calendar-direct creation path. Unlike todo sync, a
// missing credential and gateway failures surface to the caller here.
func (c *Coordinator) AddEvent(ctx context.Context, userID string, ev domain.Event) (domain.Event, error) {
	cred, err := c.gw.EnsureValidCredential(ctx, userID)
	if err != nil {
		return domain.Event{}, err
	}
	if cred == nil {
		return domain.Event{}, ErrNotConnected
	}
	res := c.gw.CreateEvent(ctx, cred, ev.Title, ev.Start, ev.End)
	if !res.Success {
		return domain.Event{}, fmt.Errorf("creating event: %w", res.Err)
	}
	ev.ID = res.EventID
	return ev, nil
}

// UpdateEvent is the calendar-direct update path.
func (c *Coordinator) UpdateEvent(ctx context.Context, userID string, ev domain.Event) (domain.Event, error) {
	cred, err := c.gw.EnsureValidCredential(ctx, userID)
	if err != nil {
		return domain.Event{}, err
	}
	if cred == nil {
		return domain.Event{}, ErrNotConnected
	}
	res := c.gw.UpdateEvent(ctx, cred, ev.ID, ev.Title, ev.Start, ev.End)
	if !res.Success {
		return domain.Event{}, fmt.Errorf("updating event %s: %w", ev.ID, res.Err)
	}
	return ev, nil
}

// DeleteEvent is the calendar-direct deletion path.
func (c *Coordinator) DeleteEvent(ctx context.Context, userID, eventID string) error {
	cred, err := c.gw.EnsureValidCredential(ctx, userID)
	if err != nil {
		return err
	}
	if cred == nil {
		return ErrNotConnected
	}
	if res := c.gw.DeleteEvent(ctx, cred, eventID); !res.Success {
		return fmt.Errorf("deleting event %s: %w", eventID, res.Err)
	}
	return nil
}

// createLinkedEvent best-effort creates the remote event for a todo with
// a due date and stores the link. On any failure the todo is returned as
// persisted, unlinked.
func (c *Coordinator) createLinkedEvent(ctx context.Context, todo domain.Todo) domain.Todo {
	cred := c.credential(ctx, todo.UserID)
	if cred == nil {
		return todo
	}
	res := c.gw.CreateEvent(ctx, cred, todo.Title, *todo.DueDate, todo.DueDate.Add(eventDuration))
	if !res.Success {
		c.log.Warn("calendar sync: create event failed", "todo_id", todo.ID, "error", res.Err)
		return todo
	}
	linked, err := c.store.SetLinkedEvent(ctx, todo.UserID, todo.ID, &res.EventID)
	if err != nil {
		c.log.Warn("calendar sync: storing link failed",
			"todo_id", todo.ID, "event_id", res.EventID, "error", err)
		return todo
	}
	return linked
}

// credential resolves a usable credential for best-effort sync. Any
// problem, including store errors, downgrades to "sync skipped".
func (c *Coordinator) credential(ctx context.Context, userID string) *domain.Credential {
	cred, err := c.gw.EnsureValidCredential(ctx, userID)
	if err != nil {
		c.log.Warn("calendar sync: credential lookup failed", "user_id", userID, "error", err)
		return nil
	}
	return cred
}

func equalTimes(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
