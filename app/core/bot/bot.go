package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskpilot/app/core/flow"
	"taskpilot/app/core/session"
	"taskpilot/app/core/storage"
	"taskpilot/app/pkg/types"
)

// Bot routes inbound events: slash commands open wizards or render lists,
// everything else is fed to whichever wizard currently owns the user's
// session.
type Bot struct {
	repo     *storage.Repository
	sessions *session.Store
	capture  *flow.CaptureFlow
	update   *flow.UpdateFlow
	complete *flow.CompleteFlow
	log      *logrus.Entry
}

func New(repo *storage.Repository, sessions *session.Store, capture *flow.CaptureFlow, update *flow.UpdateFlow, complete *flow.CompleteFlow, log *logrus.Entry) *Bot {
	return &Bot{
		repo:     repo,
		sessions: sessions,
		capture:  capture,
		update:   update,
		complete: complete,
		log:      log.WithField("component", "bot"),
	}
}

func (b *Bot) HandleEvent(ctx context.Context, ev types.Event) (types.Message, error) {
	// Lazy registration: every interaction keeps the user record current.
	user, err := b.repo.RegisterOrGetUser(ctx, ev.User.PlatformID, ev.User.DisplayName)
	if err != nil {
		return types.Message{}, fmt.Errorf("register user: %w", err)
	}

	if ev.Kind == types.EventText && strings.HasPrefix(strings.TrimSpace(ev.Payload), "/") {
		return b.handleCommand(ctx, user, ev)
	}

	// The completed-tasks toggle works with or without a session.
	if ev.Kind == types.EventChoice {
		if choice, err := flow.ParseChoice(ev.Payload); err == nil && choice.Kind == flow.ChoiceCompletedTasks {
			return b.listTasks(ctx, user, true)
		}
	}

	sess, ok := b.sessions.Get(ev.User.PlatformID)
	if !ok {
		if ev.Kind == types.EventChoice {
			// A stale keyboard from a finished wizard; nothing to do.
			return types.Message{}, nil
		}
		return types.Message{Text: "I did not understand that. Send /help to see what I can do."}, nil
	}

	reply, err := b.dispatchToFlow(ctx, sess, ev)
	if err != nil {
		return types.Message{}, err
	}
	b.sessions.Touch(ev.User.PlatformID)
	return reply, nil
}

func (b *Bot) dispatchToFlow(ctx context.Context, sess *session.Session, ev types.Event) (types.Message, error) {
	switch sess.Form.Kind() {
	case session.FlowCapture:
		return b.capture.Handle(ctx, sess, ev)
	case session.FlowUpdate:
		return b.update.Handle(ctx, sess, ev)
	case session.FlowComplete:
		return b.complete.Handle(ctx, sess, ev)
	default:
		return types.Message{}, fmt.Errorf("unknown flow kind: %s", sess.Form.Kind())
	}
}

func (b *Bot) handleCommand(ctx context.Context, user storage.User, ev types.Event) (types.Message, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(ev.Payload), "/"))
	if len(fields) == 0 {
		return types.Message{Text: "Send /help to see what I can do."}, nil
	}
	command := fields[0]
	b.log.WithFields(logrus.Fields{
		"user":    user.PlatformID,
		"command": command,
	}).Debug("command received")

	switch command {
	case "start":
		return types.Message{Text: b.greeting(user)}, nil
	case "help":
		return types.Message{Text: b.helpText()}, nil
	case "add_task":
		return b.capture.Start(ctx, user, ev.ChannelID)
	case "update_task":
		return b.update.Start(ctx, user, ev.ChannelID)
	case "complete_task":
		return b.complete.Start(ctx, user, ev.ChannelID)
	case "list_tasks":
		return b.listTasks(ctx, user, false)
	default:
		return types.Message{Text: fmt.Sprintf("Unknown command: /%s. Send /help to see what I can do.", command)}, nil
	}
}

func (b *Bot) greeting(user storage.User) string {
	return fmt.Sprintf("Hi, %s! I am a task tracking bot.\n\n%s", user.DisplayName, b.helpText())
}

func (b *Bot) helpText() string {
	var sb strings.Builder
	sb.WriteString("Commands:\n")
	sb.WriteString("  /add_task - create a new task\n")
	sb.WriteString("  /list_tasks - show your tasks\n")
	sb.WriteString("  /update_task - update a task\n")
	sb.WriteString("  /complete_task - mark a task as completed")
	return sb.String()
}

func (b *Bot) listTasks(ctx context.Context, user storage.User, completedOnly bool) (types.Message, error) {
	tasks, err := b.repo.ListUserTasks(ctx, user.ID, completedOnly)
	if err != nil {
		return types.Message{}, fmt.Errorf("list tasks: %w", err)
	}

	if completedOnly {
		completed := tasks[:0]
		for _, t := range tasks {
			if t.Status == storage.StatusCompleted {
				completed = append(completed, t)
			}
		}
		if len(completed) == 0 {
			return types.Message{Text: "You have no completed tasks."}, nil
		}
		var sb strings.Builder
		sb.WriteString("Your completed tasks:\n\n")
		for _, t := range completed {
			writeTaskSummary(&sb, t, false)
		}
		return types.Message{Text: strings.TrimSpace(sb.String())}, nil
	}

	if len(tasks) == 0 {
		return types.Message{Text: "You have no active tasks."}, nil
	}
	var sb strings.Builder
	sb.WriteString("Your active tasks:\n\n")
	for _, t := range tasks {
		writeTaskSummary(&sb, t, true)
	}
	return types.Message{
		Text: strings.TrimSpace(sb.String()),
		Choices: []types.Choice{
			{Label: "Show completed tasks", Token: flow.CompletedTasksToken()},
		},
	}, nil
}

func writeTaskSummary(sb *strings.Builder, t storage.TaskDetail, withDeadline bool) {
	fmt.Fprintf(sb, "ID: %d\n", t.ID)
	fmt.Fprintf(sb, "Task: %s\n", t.Name)
	if t.Description != "" {
		fmt.Fprintf(sb, "Description: %s\n", truncate(t.Description, 50))
	}
	fmt.Fprintf(sb, "Project: %s\n", t.ProjectName)
	fmt.Fprintf(sb, "Priority: %s\n", t.Priority.Label())
	if withDeadline && t.HasDeadline() {
		fmt.Fprintf(sb, "Deadline: %s%s\n", t.Deadline.Format(flow.DeadlineLayout), deadlineHint(t.Deadline))
	}
	fmt.Fprintf(sb, "Creator: %s\n", t.CreatorName)
	fmt.Fprintf(sb, "Assignee: %s\n\n", t.AssigneeName)
}

func deadlineHint(deadline time.Time) string {
	now := time.Now()
	if deadline.Before(now) {
		return " (overdue!)"
	}
	if deadline.YearDay() == now.YearDay() && deadline.Year() == now.Year() {
		return " (today!)"
	}
	return ""
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
