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

type CompleteForm struct{}

func (*CompleteForm) Kind() session.FlowKind { return session.FlowComplete }

// CompleteFlow asks for a task id and marks the task completed. Completing
// an already-completed task is reported as a no-op; a successful completion
// cancels any live reminder.
type CompleteFlow struct {
	repo      *storage.Repository
	sessions  *session.Store
	reminders Reminders
	log       *logrus.Entry
}

func NewCompleteFlow(repo *storage.Repository, sessions *session.Store, reminders Reminders, log *logrus.Entry) *CompleteFlow {
	return &CompleteFlow{
		repo:      repo,
		sessions:  sessions,
		reminders: reminders,
		log:       log.WithField("flow", "complete"),
	}
}

func (f *CompleteFlow) Start(ctx context.Context, user storage.User, channelID string) (types.Message, error) {
	f.sessions.Begin(user, channelID, &CompleteForm{})
	return types.Message{Text: "Enter the ID of the task to complete:"}, nil
}

func (f *CompleteFlow) Handle(ctx context.Context, sess *session.Session, ev types.Event) (types.Message, error) {
	if _, ok := sess.Form.(*CompleteForm); !ok {
		return types.Message{}, fmt.Errorf("complete flow: unexpected form %T", sess.Form)
	}
	if ev.Kind != types.EventText {
		return types.Message{}, nil
	}

	taskID, err := strconv.ParseInt(strings.TrimSpace(ev.Payload), 10, 64)
	if err != nil || taskID <= 0 {
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
		}).WithError(ErrUnauthorized).Warn("completion rejected")
		return types.Message{Text: msgUnauthorized}, nil
	}
	if task.Status == storage.StatusCompleted {
		f.sessions.End(sess.User.PlatformID)
		return types.Message{Text: "This task is already completed."}, nil
	}

	err = f.repo.CompleteTask(ctx, taskID)
	if errors.Is(err, storage.ErrAlreadyCompleted) {
		// Lost the race to another authorized user; same outcome.
		f.sessions.End(sess.User.PlatformID)
		return types.Message{Text: "This task is already completed."}, nil
	}
	if err != nil {
		return types.Message{}, fmt.Errorf("complete task: %w", err)
	}

	f.reminders.Cancel(taskID)
	f.sessions.End(sess.User.PlatformID)
	f.log.WithFields(logrus.Fields{
		"task": taskID,
		"user": sess.User.ID,
	}).Info("task completed")
	return types.Message{Text: fmt.Sprintf("Task %d completed.", taskID)}, nil
}
