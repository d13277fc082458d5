package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskpilot/app/core/session"
	"taskpilot/app/core/storage"
	"taskpilot/app/pkg/types"
)

type CaptureState int

const (
	CaptureAwaitingName CaptureState = iota
	CaptureAwaitingDescription
	CaptureAwaitingProject
	CaptureAwaitingPriority
	CaptureAwaitingDeadline
	CaptureAwaitingAssignee
)

// CaptureForm accumulates the new task field by field. Each state only
// reads fields its predecessors have already written.
type CaptureForm struct {
	State       CaptureState
	Name        string
	Description string
	ProjectID   int64
	Priority    storage.Priority
	Deadline    time.Time
}

func (*CaptureForm) Kind() session.FlowKind { return session.FlowCapture }

// CaptureFlow walks a user through creating a task: name, description,
// project, priority, deadline, assignee, then a single commit.
type CaptureFlow struct {
	repo      *storage.Repository
	sessions  *session.Store
	reminders Reminders
	log       *logrus.Entry
}

func NewCaptureFlow(repo *storage.Repository, sessions *session.Store, reminders Reminders, log *logrus.Entry) *CaptureFlow {
	return &CaptureFlow{
		repo:      repo,
		sessions:  sessions,
		reminders: reminders,
		log:       log.WithField("flow", "capture"),
	}
}

// Start opens a fresh capture session, replacing any wizard the user had in
// progress.
func (f *CaptureFlow) Start(ctx context.Context, user storage.User, channelID string) (types.Message, error) {
	f.sessions.Begin(user, channelID, &CaptureForm{State: CaptureAwaitingName})
	return types.Message{Text: "Enter the task name:"}, nil
}

func (f *CaptureFlow) Handle(ctx context.Context, sess *session.Session, ev types.Event) (types.Message, error) {
	form, ok := sess.Form.(*CaptureForm)
	if !ok {
		return types.Message{}, fmt.Errorf("capture flow: unexpected form %T", sess.Form)
	}

	switch form.State {
	case CaptureAwaitingName:
		return f.handleName(form, ev)
	case CaptureAwaitingDescription:
		return f.handleDescription(ctx, form, ev)
	case CaptureAwaitingProject:
		return f.handleProject(form, ev)
	case CaptureAwaitingPriority:
		return f.handlePriority(form, ev)
	case CaptureAwaitingDeadline:
		return f.handleDeadline(ctx, form, ev)
	case CaptureAwaitingAssignee:
		return f.handleAssignee(ctx, sess, form, ev)
	default:
		return types.Message{}, fmt.Errorf("capture flow: invalid state %d", form.State)
	}
}

func (f *CaptureFlow) handleName(form *CaptureForm, ev types.Event) (types.Message, error) {
	if ev.Kind != types.EventText {
		return types.Message{}, nil
	}
	name := strings.TrimSpace(ev.Payload)
	if name == "" {
		return types.Message{Text: "The task name cannot be empty. Enter the task name:"}, nil
	}
	form.Name = name
	form.State = CaptureAwaitingDescription
	return types.Message{Text: "Enter the task description:"}, nil
}

func (f *CaptureFlow) handleDescription(ctx context.Context, form *CaptureForm, ev types.Event) (types.Message, error) {
	if ev.Kind != types.EventText {
		return types.Message{}, nil
	}
	form.Description = strings.TrimSpace(ev.Payload)
	form.State = CaptureAwaitingProject

	projects, err := f.repo.ListProjects(ctx)
	if err != nil {
		return types.Message{}, fmt.Errorf("list projects: %w", err)
	}
	choices := make([]types.Choice, 0, len(projects))
	for _, p := range projects {
		choices = append(choices, types.Choice{Label: p.Name, Token: ProjectToken(p.ID)})
	}
	return types.Message{Text: "Choose a project:", Choices: choices}, nil
}

func (f *CaptureFlow) handleProject(form *CaptureForm, ev types.Event) (types.Message, error) {
	choice, ok := expectChoice(ev, ChoiceProject)
	if !ok {
		return types.Message{}, nil
	}
	form.ProjectID = choice.ProjectID
	form.State = CaptureAwaitingPriority

	choices := make([]types.Choice, 0, 3)
	for _, p := range storage.Priorities() {
		choices = append(choices, types.Choice{Label: p.Label(), Token: PriorityToken(p)})
	}
	return types.Message{Text: "Choose a priority:", Choices: choices}, nil
}

func (f *CaptureFlow) handlePriority(form *CaptureForm, ev types.Event) (types.Message, error) {
	choice, ok := expectChoice(ev, ChoicePriority)
	if !ok {
		return types.Message{}, nil
	}
	form.Priority = choice.Priority
	form.State = CaptureAwaitingDeadline
	return types.Message{Text: msgDeadlinePrompt}, nil
}

func (f *CaptureFlow) handleDeadline(ctx context.Context, form *CaptureForm, ev types.Event) (types.Message, error) {
	if ev.Kind != types.EventText {
		return types.Message{}, nil
	}
	deadline, err := ParseDeadline(ev.Payload)
	if err != nil {
		// Stay in this state; everything collected so far is kept.
		return types.Message{Text: msgBadDeadline}, nil
	}
	form.Deadline = deadline
	form.State = CaptureAwaitingAssignee

	users, err := f.repo.ListUsers(ctx)
	if err != nil {
		return types.Message{}, fmt.Errorf("list users: %w", err)
	}
	choices := make([]types.Choice, 0, len(users)+1)
	for _, u := range users {
		choices = append(choices, types.Choice{Label: u.DisplayName, Token: AssigneeToken(u.ID)})
	}
	choices = append(choices, types.Choice{Label: "Myself", Token: MyselfToken()})
	return types.Message{Text: "Choose an assignee:", Choices: choices}, nil
}

func (f *CaptureFlow) handleAssignee(ctx context.Context, sess *session.Session, form *CaptureForm, ev types.Event) (types.Message, error) {
	choice, ok := expectChoice(ev, ChoiceAssignee)
	if !ok {
		return types.Message{}, nil
	}
	assigneeID := choice.AssigneeID
	if choice.Myself {
		assigneeID = sess.User.ID
	}

	taskID, err := f.repo.CreateTask(ctx, storage.CreateTaskParams{
		Name:        form.Name,
		Description: form.Description,
		ProjectID:   form.ProjectID,
		CreatorID:   sess.User.ID,
		AssigneeID:  assigneeID,
		Priority:    form.Priority,
		Deadline:    form.Deadline,
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("create task: %w", err)
	}

	// The session ends here no matter what scheduling decides.
	defer f.sessions.End(sess.User.PlatformID)

	scheduled := false
	if !form.Deadline.IsZero() {
		scheduled = f.reminders.PlanForDeadline(taskID, form.Deadline)
	}
	f.log.WithFields(logrus.Fields{
		"task":      taskID,
		"creator":   sess.User.ID,
		"assignee":  assigneeID,
		"scheduled": scheduled,
	}).Info("task created")

	return types.Message{Text: fmt.Sprintf("Task created with ID %d.", taskID)}, nil
}

// expectChoice decodes the event's token and checks it against the variant
// the current step accepts. Anything else is ignored so the state does not
// advance.
func expectChoice(ev types.Event, kind ChoiceKind) (Choice, bool) {
	if ev.Kind != types.EventChoice {
		return Choice{}, false
	}
	choice, err := ParseChoice(ev.Payload)
	if err != nil || choice.Kind != kind {
		return Choice{}, false
	}
	return choice, true
}
