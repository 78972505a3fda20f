// Package tasks is the relational task store: one boards.sqlite per home,
// with status lifecycle, side tables for blockers/artifacts/worklog, and
// idempotent schema migrations executed at open.
package tasks

import (
	"errors"
	"fmt"
)

// Task statuses.
const (
	StatusTodo    = "todo"
	StatusDoing   = "doing"
	StatusPending = "pending"
	StatusBlocked = "blocked"
	StatusDone    = "done"
)

// ValidStatus reports whether s is in the enumerated status set.
func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusDoing, StatusPending, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// StatusNeedsReason reports whether s requires a non-empty statusReason.
func StatusNeedsReason(s string) bool {
	return s == StatusBlocked || s == StatusPending
}

// Task is one row of the tasks table with its side-table entries loaded.
type Task struct {
	TaskID          string  `json:"taskId"`
	Project         string  `json:"project,omitempty"`
	CreatedAt       int64   `json:"createdAt"`
	UpdatedAt       int64   `json:"updatedAt"`
	StatusUpdatedAt int64   `json:"statusUpdatedAt"`
	Owner           string  `json:"owner"`
	AssignedTo      string  `json:"assignedTo"`
	Title           string  `json:"title"`
	Description     string  `json:"description,omitempty"`
	Status          string  `json:"status"`
	StatusReason    string  `json:"statusReason,omitempty"`
	Blockers        []Entry `json:"blockers,omitempty"`
	Artifacts       []Entry `json:"artifacts,omitempty"`
	Worklog         []Entry `json:"worklog,omitempty"`
}

// Entry is one blocker, artifact or worklog row.
type Entry struct {
	CreatedAt int64  `json:"createdAt"`
	CreatedBy string `json:"createdBy"`
	Content   string `json:"content"`
}

// Draft carries caller input for CreateTask.
type Draft struct {
	Title        string
	Description  string
	Project      string
	AssignedTo   string
	Status       string
	StatusReason string
}

// DeleteResult reports what DeleteTasks removed.
type DeleteResult struct {
	DeletedTaskIDs []string `json:"deletedTaskIds"`
	DeletedCount   int      `json:"deletedCount"`
}

// ErrTaskNotFound is returned when an id matches no stored task.
var ErrTaskNotFound = errors.New("task not found")

// ValidationError marks bad caller input. The HTTP layer maps it to 400.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// reasonRequiredError builds the exact user-facing message for a missing
// status reason.
func reasonRequiredError(status string) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf("Reason is required when task status is %q.", status)}
}
