package storage

import (
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh}
}

func ParsePriority(raw string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(raw))) {
	case PriorityLow:
		return PriorityLow, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityHigh:
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("invalid priority: %s", raw)
	}
}

func (p Priority) Label() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return string(p)
	}
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// TaskField enumerates the columns editable through the update wizard.
// Status and assignment are deliberately not part of this set.
type TaskField string

const (
	FieldName        TaskField = "name"
	FieldDescription TaskField = "description"
	FieldPriority    TaskField = "priority"
	FieldDeadline    TaskField = "deadline"
)

func EditableFields() []TaskField {
	return []TaskField{FieldName, FieldDescription, FieldPriority, FieldDeadline}
}

func ParseTaskField(raw string) (TaskField, error) {
	switch TaskField(strings.ToLower(strings.TrimSpace(raw))) {
	case FieldName:
		return FieldName, nil
	case FieldDescription:
		return FieldDescription, nil
	case FieldPriority:
		return FieldPriority, nil
	case FieldDeadline:
		return FieldDeadline, nil
	default:
		return "", fmt.Errorf("invalid task field: %s", raw)
	}
}

func (f TaskField) Label() string {
	switch f {
	case FieldName:
		return "Name"
	case FieldDescription:
		return "Description"
	case FieldPriority:
		return "Priority"
	case FieldDeadline:
		return "Deadline"
	default:
		return string(f)
	}
}

// FieldValue is a tagged union of the one value an update carries. Only the
// member selected by Field is meaningful.
type FieldValue struct {
	Field    TaskField
	Text     string
	Priority Priority
	Deadline time.Time
}

type User struct {
	ID          int64
	PlatformID  string
	DisplayName string
	CreatedAt   time.Time
}

type Project struct {
	ID          int64
	Name        string
	Description string
}

type Task struct {
	ID          int64
	Name        string
	Description string
	ProjectID   int64
	CreatorID   int64
	AssigneeID  int64
	Priority    Priority
	Deadline    time.Time // zero when the task has no deadline
	Status      Status
	CreatedAt   time.Time
}

func (t Task) HasDeadline() bool {
	return !t.Deadline.IsZero()
}

// CanModify reports whether the given user may mutate or complete the task.
func (t Task) CanModify(userID int64) bool {
	return userID == t.CreatorID || userID == t.AssigneeID
}

// TaskDetail is a task joined with the display names the rendering and
// reminder paths need.
type TaskDetail struct {
	Task
	ProjectName        string
	CreatorName        string
	AssigneeName       string
	AssigneePlatformID string
}
