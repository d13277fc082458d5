package flow

import (
	"errors"
	"strings"
	"time"
)

// DeadlineLayout is the only accepted deadline format. Deadlines are
// interpreted in the process-local timezone, fixed for the whole service.
const DeadlineLayout = "2006-01-02 15:04"

var (
	ErrUnauthorized = errors.New("flow: user is neither creator nor assignee")
	ErrBadDeadline  = errors.New("flow: invalid deadline format")
)

func ParseDeadline(text string) (time.Time, error) {
	deadline, err := time.ParseInLocation(DeadlineLayout, strings.TrimSpace(text), time.Local)
	if err != nil {
		return time.Time{}, ErrBadDeadline
	}
	return deadline, nil
}

const (
	msgBadDeadline    = "Invalid date format. Please use YYYY-MM-DD HH:MM."
	msgDeadlinePrompt = "Enter the deadline as YYYY-MM-DD HH:MM\nFor example: 2030-04-15 15:00"
	msgUnauthorized   = "You cannot modify this task because you are neither its creator nor its assignee."
)

// Reminders is the slice of the reminder scheduler the wizards drive.
type Reminders interface {
	PlanForDeadline(taskID int64, deadline time.Time) bool
	Cancel(taskID int64)
}
