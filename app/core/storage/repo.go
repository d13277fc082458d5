package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTaskNotFound     = errors.New("storage: task not found")
	ErrUserNotFound     = errors.New("storage: user not found")
	ErrAlreadyCompleted = errors.New("storage: task already completed")
)

// Repository is the single access path to users, projects and tasks.
type Repository struct {
	db *DB
}

func NewRepository(database *DB) *Repository {
	return &Repository{db: database}
}

// RegisterOrGetUser creates the user on first contact and refreshes the
// display name on subsequent ones.
func (r *Repository) RegisterOrGetUser(ctx context.Context, platformID string, displayName string) (User, error) {
	platformID = strings.TrimSpace(platformID)
	if platformID == "" {
		return User{}, fmt.Errorf("platform id is required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = platformID
	}

	now := time.Now().Unix()
	query := `
INSERT INTO users (platform_id, display_name, created_at) VALUES (?, ?, ?)
ON CONFLICT(platform_id) DO UPDATE SET display_name = excluded.display_name`
	if _, err := r.db.Conn().ExecContext(ctx, query, platformID, displayName, now); err != nil {
		return User{}, err
	}
	return r.getUserByWhere(ctx, "platform_id = ?", platformID)
}

func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return r.getUserByWhere(ctx, "id = ?", id)
}

func (r *Repository) getUserByWhere(ctx context.Context, where string, arg interface{}) (User, error) {
	var (
		u         User
		createdAt int64
	)
	err := r.db.Conn().QueryRowContext(ctx,
		`SELECT id, platform_id, display_name, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.PlatformID, &u.DisplayName, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	return u, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT id, platform_id, display_name, created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var (
			u         User
			createdAt int64
		)
		if err := rows.Scan(&u.ID, &u.PlatformID, &u.DisplayName, &createdAt); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, u)
	}
	return items, rows.Err()
}

func (r *Repository) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := r.db.Conn().QueryContext(ctx,
		`SELECT id, name, description FROM projects ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

type CreateTaskParams struct {
	Name        string
	Description string
	ProjectID   int64
	CreatorID   int64
	AssigneeID  int64
	Priority    Priority
	Deadline    time.Time // zero for no deadline
}

func (r *Repository) CreateTask(ctx context.Context, p CreateTaskParams) (int64, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return 0, fmt.Errorf("task name is required")
	}
	if p.CreatorID == 0 {
		return 0, fmt.Errorf("creator id is required")
	}
	if p.AssigneeID == 0 {
		p.AssigneeID = p.CreatorID
	}

	query := `
INSERT INTO tasks (name, description, project_id, creator_id, assignee_id, priority, deadline, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 'active', ?)`
	result, err := r.db.Conn().ExecContext(ctx, query,
		p.Name,
		p.Description,
		p.ProjectID,
		p.CreatorID,
		p.AssigneeID,
		string(p.Priority),
		unixOrNil(p.Deadline),
		time.Now().Unix(),
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (r *Repository) GetTask(ctx context.Context, id int64) (Task, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
SELECT id, name, description, project_id, creator_id, assignee_id, priority, deadline, status, created_at
FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

// GetTaskDetail resolves the joined names needed for rendering and reminder
// delivery.
func (r *Repository) GetTaskDetail(ctx context.Context, id int64) (TaskDetail, error) {
	row := r.db.Conn().QueryRowContext(ctx, `
SELECT t.id, t.name, t.description, t.project_id, t.creator_id, t.assignee_id,
	t.priority, t.deadline, t.status, t.created_at,
	COALESCE(p.name, ''), COALESCE(c.display_name, ''), COALESCE(a.display_name, ''), COALESCE(a.platform_id, '')
FROM tasks t
LEFT JOIN projects p ON t.project_id = p.id
LEFT JOIN users c ON t.creator_id = c.id
LEFT JOIN users a ON t.assignee_id = a.id
WHERE t.id = ?`, id)

	var (
		d         TaskDetail
		deadline  sql.NullInt64
		createdAt int64
	)
	err := row.Scan(
		&d.ID, &d.Name, &d.Description, &d.ProjectID, &d.CreatorID, &d.AssigneeID,
		&d.Priority, &deadline, &d.Status, &createdAt,
		&d.ProjectName, &d.CreatorName, &d.AssigneeName, &d.AssigneePlatformID,
	)
	if err == sql.ErrNoRows {
		return TaskDetail{}, ErrTaskNotFound
	}
	if err != nil {
		return TaskDetail{}, err
	}
	if deadline.Valid {
		d.Deadline = time.Unix(deadline.Int64, 0)
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	return d, nil
}

// UpdateTaskField writes exactly one editable column. The column is selected
// by the tagged union, never from caller-supplied text.
func (r *Repository) UpdateTaskField(ctx context.Context, id int64, value FieldValue) error {
	var (
		column string
		arg    interface{}
	)
	switch value.Field {
	case FieldName:
		text := strings.TrimSpace(value.Text)
		if text == "" {
			return fmt.Errorf("task name is required")
		}
		column, arg = "name", text
	case FieldDescription:
		column, arg = "description", value.Text
	case FieldPriority:
		priority, err := ParsePriority(string(value.Priority))
		if err != nil {
			return err
		}
		column, arg = "priority", string(priority)
	case FieldDeadline:
		column, arg = "deadline", unixOrNil(value.Deadline)
	default:
		return fmt.Errorf("invalid task field: %s", value.Field)
	}

	result, err := r.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET `+column+` = ? WHERE id = ?`, arg, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// CompleteTask flips an active task to completed. The conditional update
// makes the transition atomic against concurrent writers; the follow-up read
// only classifies the failure.
func (r *Repository) CompleteTask(ctx context.Context, id int64) error {
	result, err := r.db.Conn().ExecContext(ctx,
		`UPDATE tasks SET status = 'completed' WHERE id = ? AND status = 'active'`, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var status Status
	err = r.db.Conn().QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrTaskNotFound
	}
	if err != nil {
		return err
	}
	if status == StatusCompleted {
		return ErrAlreadyCompleted
	}
	return fmt.Errorf("complete task %d: unexpected status %s", id, status)
}

// ListUserTasks returns tasks the user created or is assigned to, active
// first, then by priority and deadline.
func (r *Repository) ListUserTasks(ctx context.Context, userID int64, includeCompleted bool) ([]TaskDetail, error) {
	statusFilter := `AND t.status = 'active'`
	if includeCompleted {
		statusFilter = ``
	}
	query := `
SELECT t.id, t.name, t.description, t.project_id, t.creator_id, t.assignee_id,
	t.priority, t.deadline, t.status, t.created_at,
	COALESCE(p.name, ''), COALESCE(c.display_name, ''), COALESCE(a.display_name, ''), COALESCE(a.platform_id, '')
FROM tasks t
LEFT JOIN projects p ON t.project_id = p.id
LEFT JOIN users c ON t.creator_id = c.id
LEFT JOIN users a ON t.assignee_id = a.id
WHERE (t.creator_id = ? OR t.assignee_id = ?) ` + statusFilter + `
ORDER BY
	CASE t.status WHEN 'active' THEN 0 ELSE 1 END,
	CASE t.priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END,
	COALESCE(t.deadline, 9223372036854775807) ASC`

	rows, err := r.db.Conn().QueryContext(ctx, query, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]TaskDetail, 0)
	for rows.Next() {
		var (
			d         TaskDetail
			deadline  sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(
			&d.ID, &d.Name, &d.Description, &d.ProjectID, &d.CreatorID, &d.AssigneeID,
			&d.Priority, &deadline, &d.Status, &createdAt,
			&d.ProjectName, &d.CreatorName, &d.AssigneeName, &d.AssigneePlatformID,
		); err != nil {
			return nil, err
		}
		if deadline.Valid {
			d.Deadline = time.Unix(deadline.Int64, 0)
		}
		d.CreatedAt = time.Unix(createdAt, 0)
		items = append(items, d)
	}
	return items, rows.Err()
}

// ListRemindableTasks returns active tasks that carry a deadline. The
// reminder scheduler rebuilds its job table from this on startup.
func (r *Repository) ListRemindableTasks(ctx context.Context) ([]Task, error) {
	rows, err := r.db.Conn().QueryContext(ctx, `
SELECT id, name, description, project_id, creator_id, assignee_id, priority, deadline, status, created_at
FROM tasks WHERE status = 'active' AND deadline IS NOT NULL ORDER BY deadline ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, task)
	}
	return items, rows.Err()
}

func scanTask(row *sql.Row) (Task, error) {
	var (
		t         Task
		deadline  sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.ProjectID, &t.CreatorID, &t.AssigneeID,
		&t.Priority, &deadline, &t.Status, &createdAt)
	if err == sql.ErrNoRows {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, err
	}
	if deadline.Valid {
		t.Deadline = time.Unix(deadline.Int64, 0)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	return t, nil
}

func scanTaskRow(rows *sql.Rows) (Task, error) {
	var (
		t         Task
		deadline  sql.NullInt64
		createdAt int64
	)
	if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.ProjectID, &t.CreatorID, &t.AssigneeID,
		&t.Priority, &deadline, &t.Status, &createdAt); err != nil {
		return Task{}, err
	}
	if deadline.Valid {
		t.Deadline = time.Unix(deadline.Int64, 0)
	}
	t.CreatedAt = time.Unix(createdAt, 0)
	return t, nil
}

func unixOrNil(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
