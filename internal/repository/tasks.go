package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskhub/internal/models"
	"taskhub/pkg/logger"
)

const taskColumns = `tasks.id, tasks.title, tasks.completed, tasks.assigned_user_id,
	users.username, tasks.created_at, tasks.completed_at, tasks.due_date`

// TaskPatch carries a partial task update. Pointer fields follow the wire
// contract: a nil pointer with its Set flag raised clears the column.
type TaskPatch struct {
	Title          *string
	Completed      *bool
	AssignSet      bool
	AssignedUserID *string
	DueSet         bool
	DueDate        *time.Time
}

// Empty reports whether the patch would touch nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Completed == nil && !p.AssignSet && !p.DueSet
}

// ListTasks returns all tasks with their assignee usernames joined in,
// due-soonest first (tasks without a due date sort last), then newest.
func (s *Store) ListTasks(ctx context.Context) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 LEFT JOIN users ON users.id = tasks.assigned_user_id
		 ORDER BY
		   CASE WHEN tasks.due_date IS NULL THEN 1 ELSE 0 END,
		   tasks.due_date ASC,
		   tasks.created_at DESC`)
	if err != nil {
		logger.Error(ctx, "Repository ListTasks failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			logger.Error(ctx, "Repository scan task failed", "error", err)
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask returns one task with its assignee username joined in.
func (s *Store) GetTask(ctx context.Context, id string) (models.Task, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+taskColumns+`
		 FROM tasks
		 LEFT JOIN users ON users.id = tasks.assigned_user_id
		 WHERE tasks.id = ?`), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Task{}, ErrNotFound
	}
	if err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// CreateTask inserts a new task. A non-nil assignee must reference an
// existing user.
func (s *Store) CreateTask(ctx context.Context, title string, assignedUserID *string, dueDate *time.Time) (models.Task, error) {
	if assignedUserID != nil {
		if _, err := s.GetUser(ctx, *assignedUserID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return models.Task{}, ErrUnknownAssignee
			}
			return models.Task{}, err
		}
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO tasks (id, title, completed, assigned_user_id, created_at, completed_at, due_date, due_notified)
		 VALUES (?, ?, ?, ?, ?, NULL, ?, FALSE)`),
		id, title, false, assignedUserID, now, normalizeTime(dueDate))
	if err != nil {
		logger.Error(ctx, "Repository CreateTask failed", "error", err)
		return models.Task{}, err
	}
	return s.GetTask(ctx, id)
}

// UpdateTask applies a partial update and returns the updated row. The SET
// clause is built from the fields actually present, like the PATCH body.
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) (models.Task, error) {
	if patch.Empty() {
		return models.Task{}, ErrNothingToUpdate
	}
	if _, err := s.GetTask(ctx, id); err != nil {
		return models.Task{}, err
	}
	if patch.AssignSet && patch.AssignedUserID != nil {
		if _, err := s.GetUser(ctx, *patch.AssignedUserID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return models.Task{}, ErrUnknownAssignee
			}
			return models.Task{}, err
		}
	}

	var updates []string
	var params []interface{}

	if patch.Title != nil {
		updates = append(updates, "title = ?")
		params = append(params, strings.TrimSpace(*patch.Title))
	}
	if patch.Completed != nil {
		updates = append(updates, "completed = ?", "completed_at = ?")
		var completedAt interface{}
		if *patch.Completed {
			completedAt = time.Now().UTC()
		}
		params = append(params, *patch.Completed, completedAt)
	}
	if patch.AssignSet {
		updates = append(updates, "assigned_user_id = ?")
		params = append(params, patch.AssignedUserID)
	}
	if patch.DueSet {
		// A changed deadline re-arms the overdue watcher.
		updates = append(updates, "due_date = ?", "due_notified = FALSE")
		params = append(params, normalizeTime(patch.DueDate))
	}

	params = append(params, id)
	q := `UPDATE tasks SET ` + strings.Join(updates, ", ") + ` WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, s.rebind(q), params...); err != nil {
		logger.Error(ctx, "Repository UpdateTask failed", "error", err, "id", id)
		return models.Task{}, err
	}
	return s.GetTask(ctx, id)
}

// DeleteTask removes a task and returns the row it removed.
func (s *Store) DeleteTask(ctx context.Context, id string) (models.Task, error) {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM tasks WHERE id = ?`), id); err != nil {
		logger.Error(ctx, "Repository DeleteTask failed", "error", err, "id", id)
		return models.Task{}, err
	}
	return t, nil
}

// OverdueTasks returns open tasks whose due date has passed and that have
// not been announced yet.
func (s *Store) OverdueTasks(ctx context.Context, now time.Time) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+taskColumns+`
		 FROM tasks
		 LEFT JOIN users ON users.id = tasks.assigned_user_id
		 WHERE tasks.completed = FALSE
		   AND tasks.due_notified = FALSE
		   AND tasks.due_date IS NOT NULL
		   AND tasks.due_date <= ?
		 ORDER BY tasks.due_date ASC`), now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// MarkDueNotified records that the overdue notice for a task went out.
func (s *Store) MarkDueNotified(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE tasks SET due_notified = TRUE WHERE id = ?`), id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (models.Task, error) {
	var (
		t           models.Task
		assignee    sql.NullString
		username    sql.NullString
		completedAt sql.NullTime
		dueDate     sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Completed, &assignee, &username,
		&t.CreatedAt, &completedAt, &dueDate); err != nil {
		return models.Task{}, err
	}
	if assignee.Valid {
		t.AssignedUserID = &assignee.String
	}
	if username.Valid {
		t.AssignedUsername = &username.String
	}
	if completedAt.Valid {
		at := completedAt.Time.UTC()
		t.CompletedAt = &at
	}
	if dueDate.Valid {
		at := dueDate.Time.UTC()
		t.DueDate = &at
	}
	return t, nil
}

// normalizeTime keeps stored timestamps UTC so both drivers compare and
// order them consistently.
func normalizeTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
