package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"taskpilot/app/core/session"
	"taskpilot/app/core/storage"
	"taskpilot/app/pkg/types"
)

type UpdateState int

const (
	UpdateAwaitingTaskID UpdateState = iota
	UpdateAwaitingField
	UpdateAwaitingValue
)

type UpdateForm struct {
	State    UpdateState
	TaskID   int64
	TaskName string
	Field    storage.TaskField
}

func (*UpdateForm) Kind() session.FlowKind { return session.FlowUpdate }

// UpdateFlow locates a task, lets an authorized user pick one mutable field,
// and replaces its value. Unknown task ids and unauthorized users terminate
// the session outright.
type UpdateFlow struct {
	repo      *storage.Repository
	sessions  *session.Store
	reminders Reminders
	log       *logrus.Entry
}

func NewUpdateFlow(repo *storage.Repository, sessions *session.Store, reminders Reminders, log *logrus.Entry) *UpdateFlow {
	return &UpdateFlow{
		repo:      repo,
		sessions:  sessions,
		reminders: reminders,
		log:       log.WithField("flow", "update"),
	}
}

func (f *UpdateFlow) Start(ctx context.Context, user storage.User, channelID string) (types.Message, error) {
	f.sessions.Begin(user, channelID, &UpdateForm{State: UpdateAwaitingTaskID})
	return types.Message{Text: "Enter the ID of the task to update:"}, nil
}

func (f *UpdateFlow) Handle(ctx context.Context, sess *session.Session, ev types.Event) (types.Message, error) {
	form, ok := sess.Form.(*UpdateForm)
	if !ok {
		return types.Message{}, fmt.Errorf("update flow: unexpected form %T", sess.Form)
	}

	switch form.State {
	case UpdateAwaitingTaskID:
		return f.handleTaskID(ctx, sess, form, ev)
	case UpdateAwaitingField:
		return f.handleField(form, ev)
	case UpdateAwaitingValue:
		return f.handleValue(ctx, sess, form, ev)
	default:
		return types.Message{}, fmt.Errorf("update flow: invalid state %d", form.State)
	}
}

func (f *UpdateFlow) handleTaskID(ctx context.Context, sess *session.Session, form *UpdateForm, ev types.Event) (types.Message, error) {
	if ev.Kind != types.EventText {
		return types.Message{}, nil
	}
	taskID, err := strconv.ParseInt(strings.TrimSpace(ev.Payload), 10, 64)
	if err != nil || taskID <= 0 {
		// Re-prompt; the session stays in this state.
		return types.Message{Text: "Please enter a numeric task ID."}, nil
	}

	task, err := f.repo.GetTask(ctx, taskID)
	if errors.Is(err, storage.ErrTaskNotFound) {
		f.sessions.End(sess.User.PlatformID)
		return types.Message{Text: fmt.Sprintf("Task with ID %d was not found.", taskID)}, nil
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("get task: %w", err)
	}
	if !task.CanModify(sess.User.ID) {
		f.sessions.End(sess.User.PlatformID)
		f.log.WithFields(logrus.Fields{
			"task": taskID,
			"user": sess.User.ID,
		}).WithError(ErrUnauthorized).Warn("update rejected")
		return types.Message{Text: msgUnauthorized}, nil
	}

	form.TaskID = task.ID
	form.TaskName = task.Name
	form.State = UpdateAwaitingField

	choices := make([]types.Choice, 0, 4)
	for _, field := range storage.EditableFields() {
		choices = append(choices, types.Choice{Label: field.Label(), Token: FieldToken(field)})
	}
	return types.Message{
		Text:    fmt.Sprintf("Choose a field to update for task '%s':", task.Name),
		Choices: choices,
	}, nil
}

func (f *UpdateFlow) handleField(form *UpdateForm, ev types.Event) (types.Message, error) {
	choice, ok := expectChoice(ev, ChoiceField)
	if !ok {
		return types.Message{}, nil
	}
	form.Field = choice.Field
	form.State = UpdateAwaitingValue

	if choice.Field == storage.FieldPriority {
		choices := make([]types.Choice, 0, 3)
		for _, p := range storage.Priorities() {
			choices = append(choices, types.Choice{Label: p.Label(), Token: PriorityToken(p)})
		}
		return types.Message{Text: "Choose the new priority:", Choices: choices}, nil
	}

	switch choice.Field {
	case storage.FieldName:
		return types.Message{Text: "Enter the new name:"}, nil
	case storage.FieldDescription:
		return types.Message{Text: "Enter the new description:"}, nil
	default: // deadline
		return types.Message{Text: "Enter the new deadline as YYYY-MM-DD HH:MM:"}, nil
	}
}

func (f *UpdateFlow) handleValue(ctx context.Context, sess *session.Session, form *UpdateForm, ev types.Event) (types.Message, error) {
	value, reply, ok, err := f.collectValue(form, ev)
	if err != nil || !ok {
		return reply, err
	}

	if err := f.repo.UpdateTaskField(ctx, form.TaskID, value); err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			f.sessions.End(sess.User.PlatformID)
			return types.Message{Text: fmt.Sprintf("Task with ID %d was not found.", form.TaskID)}, nil
		}
		return types.Message{}, fmt.Errorf("update task field: %w", err)
	}

	if value.Field == storage.FieldDeadline {
		// Replace the reminder to track the new deadline.
		f.reminders.Cancel(form.TaskID)
		f.reminders.PlanForDeadline(form.TaskID, value.Deadline)
	}

	f.sessions.End(sess.User.PlatformID)
	f.log.WithFields(logrus.Fields{
		"task":  form.TaskID,
		"field": value.Field,
		"user":  sess.User.ID,
	}).Info("task field updated")

	if value.Field == storage.FieldPriority {
		return types.Message{Text: fmt.Sprintf("Priority updated to %s.", value.Priority.Label())}, nil
	}
	return types.Message{Text: fmt.Sprintf("%s updated.", value.Field.Label())}, nil
}

// collectValue turns the event into the tagged field value, or a re-prompt
// when the input is not acceptable yet. ok is false when nothing should be
// committed.
func (f *UpdateFlow) collectValue(form *UpdateForm, ev types.Event) (storage.FieldValue, types.Message, bool, error) {
	switch form.Field {
	case storage.FieldPriority:
		choice, matched := expectChoice(ev, ChoicePriority)
		if !matched {
			return storage.FieldValue{}, types.Message{}, false, nil
		}
		return storage.FieldValue{Field: storage.FieldPriority, Priority: choice.Priority}, types.Message{}, true, nil
	case storage.FieldDeadline:
		if ev.Kind != types.EventText {
			return storage.FieldValue{}, types.Message{}, false, nil
		}
		deadline, err := ParseDeadline(ev.Payload)
		if err != nil {
			return storage.FieldValue{}, types.Message{Text: msgBadDeadline}, false, nil
		}
		return storage.FieldValue{Field: storage.FieldDeadline, Deadline: deadline}, types.Message{}, true, nil
	case storage.FieldName:
		if ev.Kind != types.EventText {
			return storage.FieldValue{}, types.Message{}, false, nil
		}
		name := strings.TrimSpace(ev.Payload)
		if name == "" {
			return storage.FieldValue{}, types.Message{Text: "The task name cannot be empty. Enter the new name:"}, false, nil
		}
		return storage.FieldValue{Field: storage.FieldName, Text: name}, types.Message{}, true, nil
	case storage.FieldDescription:
		if ev.Kind != types.EventText {
			return storage.FieldValue{}, types.Message{}, false, nil
		}
		return storage.FieldValue{Field: storage.FieldDescription, Text: strings.TrimSpace(ev.Payload)}, types.Message{}, true, nil
	default:
		return storage.FieldValue{}, types.Message{}, false, fmt.Errorf("update flow: invalid field %s", form.Field)
	}
}
