package flow

import (
	"fmt"
	"strconv"
	"strings"

	"taskpilot/app/core/storage"
)

// ChoiceKind tags the variants a choice token can decode to. Tokens are
// parsed exactly once at the boundary; everything past ParseChoice works
// with the typed variant.
type ChoiceKind int

const (
	ChoiceProject ChoiceKind = iota + 1
	ChoicePriority
	ChoiceAssignee
	ChoiceField
	ChoiceCompletedTasks
)

// Choice is the decoded form of an opaque choice token. Only the members
// selected by Kind are meaningful.
type Choice struct {
	Kind       ChoiceKind
	ProjectID  int64
	Priority   storage.Priority
	AssigneeID int64
	Myself     bool
	Field      storage.TaskField
}

const myselfValue = "self"

func ProjectToken(id int64) string {
	return "project:" + strconv.FormatInt(id, 10)
}

func PriorityToken(p storage.Priority) string {
	return "priority:" + string(p)
}

func AssigneeToken(id int64) string {
	return "assignee:" + strconv.FormatInt(id, 10)
}

func MyselfToken() string {
	return "assignee:" + myselfValue
}

func FieldToken(f storage.TaskField) string {
	return "field:" + string(f)
}

func CompletedTasksToken() string {
	return "tasks:completed"
}

// ParseChoice decodes an opaque token into its typed variant. Unrecognized
// tokens are an explicit error, never a fall-through.
func ParseChoice(token string) (Choice, error) {
	prefix, value, found := strings.Cut(strings.TrimSpace(token), ":")
	if !found {
		return Choice{}, fmt.Errorf("malformed choice token: %q", token)
	}

	switch prefix {
	case "project":
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return Choice{}, fmt.Errorf("invalid project token: %q", token)
		}
		return Choice{Kind: ChoiceProject, ProjectID: id}, nil
	case "priority":
		priority, err := storage.ParsePriority(value)
		if err != nil {
			return Choice{}, fmt.Errorf("invalid priority token: %q", token)
		}
		return Choice{Kind: ChoicePriority, Priority: priority}, nil
	case "assignee":
		if value == myselfValue {
			return Choice{Kind: ChoiceAssignee, Myself: true}, nil
		}
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil || id <= 0 {
			return Choice{}, fmt.Errorf("invalid assignee token: %q", token)
		}
		return Choice{Kind: ChoiceAssignee, AssigneeID: id}, nil
	case "field":
		field, err := storage.ParseTaskField(value)
		if err != nil {
			return Choice{}, fmt.Errorf("invalid field token: %q", token)
		}
		return Choice{Kind: ChoiceField, Field: field}, nil
	case "tasks":
		if value != "completed" {
			return Choice{}, fmt.Errorf("invalid tasks token: %q", token)
		}
		return Choice{Kind: ChoiceCompletedTasks}, nil
	default:
		return Choice{}, fmt.Errorf("unknown choice token: %q", token)
	}
}
