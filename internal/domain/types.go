package domain

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Todo is the primary record. LinkedEventID is non-nil exactly while a
// remote calendar event represents this todo, and CompletedAt is non-nil
// exactly while Status is completed.
type Todo struct {
	ID            string     `json:"id" db:"id"`
	UserID        string     `json:"userId" db:"user_id"`
	Title         string     `json:"title" db:"title"`
	Description   string     `json:"description" db:"description"`
	Priority      Priority   `json:"priority" db:"priority"`
	Status        Status     `json:"status" db:"status"`
	DueDate       *time.Time `json:"dueDate,omitempty" db:"due_date"`
	LinkedEventID *string    `json:"linkedEventId,omitempty" db:"linked_event_id"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time  `json:"updatedAt" db:"updated_at"`
}

// TodoPatch is a partial update applied by explicit field list. Nil fields
// are left untouched. DueDateSet distinguishes "clear the due date" (true
// with a nil DueDate) from "due date not part of this patch" (false).
type TodoPatch struct {
	Title       *string
	Description *string
	Priority    *Priority
	Status      *Status
	DueDate     *time.Time
	DueDateSet  bool
}

func (p TodoPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Status == nil && !p.DueDateSet
}

// Credential holds a user's calendar provider tokens. At most one row per
// user; absence means the calendar is not connected.
type Credential struct {
	UserID       string    `json:"userId" db:"user_id"`
	AccessToken  string    `json:"-" db:"access_token"`
	RefreshToken string    `json:"-" db:"refresh_token"`
	Expiry       time.Time `json:"expiry" db:"expiry"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Event mirrors the remote calendar event fields the service renders.
// The provider owns the record; only the id is stored locally, on the todo.
type Event struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
