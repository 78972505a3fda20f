package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MaxListLimit caps ListLatestTasks.
const MaxListLimit = 100

// Authorizer gates task mutations. Satisfied by authz.Resolver.
type Authorizer interface {
	// AuthorizeTask allows an operation when the task's owner or assignee
	// is reachable from the actor.
	AuthorizeTask(actorID, owner, assignee string) error
	// AuthorizeAssignment allows assigning work to assignee.
	AuthorizeAssignment(actorID, assignee string) error
}

// Store is the SQLite-backed task board. One writer handle serialises
// commits in-process; a second process writing the same file is detected
// by mtime and the handle is re-opened before the next read.
type Store struct {
	path  string
	authz Authorizer
	now   func() int64

	mu        sync.Mutex
	db        *sql.DB
	lastMtime time.Time
}

// Open opens (or creates) the board file and runs migrations.
func Open(path string, authz Authorizer) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare board dir: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:  path,
		authz: authz,
		now:   func() int64 { return time.Now().UnixMilli() },
		db:    db,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate board: %w", err)
	}
	s.noteMtime()
	return s, nil
}

func openDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open board: %w", err)
	}
	// SQLite supports one writer; a single connection also keeps reads
	// against a consistent handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) noteMtime() {
	if fi, err := os.Stat(s.path); err == nil {
		s.lastMtime = fi.ModTime()
	}
}

// refreshLocked re-opens the handle when another process changed the file
// since our last commit. Called with s.mu held.
func (s *Store) refreshLocked() {
	fi, err := os.Stat(s.path)
	if err != nil || fi.ModTime().Equal(s.lastMtime) {
		return
	}
	db, err := openDB(s.path)
	if err != nil {
		slog.Warn("tasks.reopen_failed", "error", err)
		return
	}
	s.db.Close()
	s.db = db
	s.lastMtime = fi.ModTime()
	slog.Debug("tasks.reopened_after_external_write")
}

// newTaskID mints t-{8 hex} task ids.
func newTaskID() string {
	return "t-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// CreateTask validates the draft, checks the assignment against the
// actor's reachable set and inserts the row. Owner is always the actor.
func (s *Store) CreateTask(ctx context.Context, actorID string, draft Draft) (Task, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return Task{}, validationf("task title is required")
	}
	status := draft.Status
	if status == "" {
		status = StatusTodo
	}
	if !ValidStatus(status) {
		return Task{}, validationf("unknown task status %q", status)
	}
	if StatusNeedsReason(status) && strings.TrimSpace(draft.StatusReason) == "" {
		return Task{}, reasonRequiredError(status)
	}
	assignee := draft.AssignedTo
	if assignee == "" {
		assignee = actorID
	}
	if err := s.authz.AuthorizeAssignment(actorID, assignee); err != nil {
		return Task{}, err
	}

	now := s.now()
	task := Task{
		TaskID:          newTaskID(),
		Project:         draft.Project,
		CreatedAt:       now,
		UpdatedAt:       now,
		StatusUpdatedAt: now,
		Owner:           actorID,
		AssignedTo:      assignee,
		Title:           draft.Title,
		Description:     draft.Description,
		Status:          status,
		StatusReason:    draft.StatusReason,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, board_id, created_at, updated_at, status_updated_at,
		                   owner_agent_id, assigned_to_agent_id, title, description, status, status_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, task.Project, task.CreatedAt, task.UpdatedAt, task.StatusUpdatedAt,
		task.Owner, task.AssignedTo, task.Title, task.Description, task.Status, task.StatusReason,
	)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	s.noteMtime()

	slog.Info("tasks.created", "taskId", task.TaskID, "owner", actorID, "assignedTo", assignee, "status", status)
	return task, nil
}

// GetTask loads one task with its side-table entries. Matching is
// case-insensitive; the stored casing is returned.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()
	return s.getLocked(ctx, id)
}

func (s *Store) getLocked(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, board_id, created_at, updated_at, status_updated_at,
		       owner_agent_id, assigned_to_agent_id, title, description, status, status_reason
		FROM tasks WHERE LOWER(task_id) = LOWER(?)`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, err
	}

	for _, side := range []struct {
		table string
		dst   *[]Entry
	}{
		{"task_blockers", &task.Blockers},
		{"task_artifacts", &task.Artifacts},
		{"task_worklog", &task.Worklog},
	} {
		entries, err := s.loadEntries(ctx, side.table, task.TaskID)
		if err != nil {
			return Task{}, err
		}
		*side.dst = entries
	}
	return task, nil
}

func (s *Store) loadEntries(ctx context.Context, table, taskID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT created_at, created_by, content FROM %s WHERE task_id = ? ORDER BY seq", table), taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.CreatedAt, &e.CreatedBy, &e.Content); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateTaskStatus moves a task to a new status, enforcing the reason rule
// and the actor's authorization. Both updated_at and status_updated_at
// advance.
func (s *Store) UpdateTaskStatus(ctx context.Context, actorID, id, status, reason string) (Task, error) {
	if !ValidStatus(status) {
		return Task{}, validationf("unknown task status %q", status)
	}
	if StatusNeedsReason(status) && strings.TrimSpace(reason) == "" {
		return Task{}, reasonRequiredError(status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	task, err := s.getLocked(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err := s.authz.AuthorizeTask(actorID, task.Owner, task.AssignedTo); err != nil {
		return Task{}, err
	}

	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, status_reason = ?, updated_at = ?, status_updated_at = ?
		WHERE task_id = ?`, status, reason, now, now, task.TaskID)
	if err != nil {
		return Task{}, fmt.Errorf("update status: %w", err)
	}
	s.noteMtime()

	task.Status = status
	task.StatusReason = reason
	task.UpdatedAt = now
	task.StatusUpdatedAt = now
	slog.Info("tasks.status_updated", "taskId", task.TaskID, "status", status, "actor", actorID)
	return task, nil
}

// AddBlocker appends a blocker entry.
func (s *Store) AddBlocker(ctx context.Context, actorID, id, content string) (Task, error) {
	return s.appendEntry(ctx, "task_blockers", actorID, id, content)
}

// AddArtifact appends an artifact entry.
func (s *Store) AddArtifact(ctx context.Context, actorID, id, content string) (Task, error) {
	return s.appendEntry(ctx, "task_artifacts", actorID, id, content)
}

// AddWorklog appends a worklog entry.
func (s *Store) AddWorklog(ctx context.Context, actorID, id, content string) (Task, error) {
	return s.appendEntry(ctx, "task_worklog", actorID, id, content)
}

func (s *Store) appendEntry(ctx context.Context, table, actorID, id, content string) (Task, error) {
	if strings.TrimSpace(content) == "" {
		return Task{}, validationf("content is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	task, err := s.getLocked(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if err := s.authz.AuthorizeTask(actorID, task.Owner, task.AssignedTo); err != nil {
		return Task{}, err
	}

	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, err
	}
	defer tx.Rollback()

	var nextSeq int64
	if err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) + 1 FROM %s WHERE task_id = ?", table), task.TaskID,
	).Scan(&nextSeq); err != nil {
		return Task{}, err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (task_id, seq, created_at, created_by, content) VALUES (?, ?, ?, ?, ?)", table),
		task.TaskID, nextSeq, now, actorID, content,
	); err != nil {
		return Task{}, err
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE tasks SET updated_at = ? WHERE task_id = ?", now, task.TaskID,
	); err != nil {
		return Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return Task{}, err
	}
	s.noteMtime()

	return s.getLocked(ctx, task.TaskID)
}

// DeleteTasks removes the given ids (de-duplicated, case-insensitive),
// applying authorization per id. Unknown ids are skipped silently; an
// authorization failure aborts the whole call.
func (s *Store) DeleteTasks(ctx context.Context, actorID string, ids []string) (DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	seen := make(map[string]bool, len(ids))
	var result DeleteResult
	for _, id := range ids {
		lower := strings.ToLower(id)
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true

		task, err := s.getLocked(ctx, id)
		if err == ErrTaskNotFound {
			continue
		}
		if err != nil {
			return DeleteResult{}, err
		}
		if err := s.authz.AuthorizeTask(actorID, task.Owner, task.AssignedTo); err != nil {
			return DeleteResult{}, err
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return DeleteResult{}, err
		}
		for _, table := range []string{"task_blockers", "task_artifacts", "task_worklog"} {
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE task_id = ?", table), task.TaskID); err != nil {
				tx.Rollback()
				return DeleteResult{}, err
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE task_id = ?", task.TaskID); err != nil {
			tx.Rollback()
			return DeleteResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return DeleteResult{}, err
		}

		result.DeletedTaskIDs = append(result.DeletedTaskIDs, task.TaskID)
		result.DeletedCount++
	}
	s.noteMtime()

	slog.Info("tasks.deleted", "actor", actorID, "count", result.DeletedCount)
	return result, nil
}

// ListTasks returns every task, newest first.
func (s *Store) ListTasks(ctx context.Context) ([]Task, error) {
	return s.list(ctx, "", 0)
}

// ListLatestTasks returns at most min(limit, 100) tasks ordered by
// created_at desc, optionally filtered to one assignee.
func (s *Store) ListLatestTasks(ctx context.Context, assignee string, limit int) ([]Task, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.list(ctx, assignee, limit)
}

func (s *Store) list(ctx context.Context, assignee string, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	query := `
		SELECT task_id, board_id, created_at, updated_at, status_updated_at,
		       owner_agent_id, assigned_to_agent_id, title, description, status, status_reason
		FROM tasks`
	var args []any
	if assignee != "" {
		query += " WHERE assigned_to_agent_id = ?"
		args = append(args, assignee)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// ListDoingTaskIdsOlderThan returns ids of doing tasks whose
// status_updated_at is at least minutes old.
func (s *Store) ListDoingTaskIdsOlderThan(ctx context.Context, minutes int) ([]string, error) {
	return s.listStatusOlderThan(ctx, StatusDoing, minutes)
}

// ListStatusOlderThan returns ids of tasks in status whose updated_at is
// at least minutes old. The scheduler sweeps use it for todo and blocked.
func (s *Store) ListStatusOlderThan(ctx context.Context, status string, minutes int) ([]string, error) {
	if !ValidStatus(status) {
		return nil, validationf("unknown task status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	cutoff := s.now() - int64(minutes)*60_000
	rows, err := s.db.QueryContext(ctx,
		"SELECT task_id FROM tasks WHERE status = ? AND updated_at <= ? ORDER BY created_at", status, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func (s *Store) listStatusOlderThan(ctx context.Context, status string, minutes int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	cutoff := s.now() - int64(minutes)*60_000
	rows, err := s.db.QueryContext(ctx,
		"SELECT task_id FROM tasks WHERE status = ? AND status_updated_at <= ? ORDER BY created_at", status, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ResetTaskStatusTimeout bumps status_updated_at to now without touching
// the status. The scheduler calls it after nudging so the next tick does
// not re-fire.
func (s *Store) ResetTaskStatusTimeout(ctx context.Context, id, status string) error {
	if !ValidStatus(status) {
		return validationf("unknown task status %q", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked()

	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status_updated_at = ?, updated_at = ? WHERE LOWER(task_id) = LOWER(?) AND status = ?",
		now, now, id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	s.noteMtime()
	return nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (Task, error) {
	var t Task
	var updatedAt sql.NullString
	err := r.Scan(&t.TaskID, &t.Project, &t.CreatedAt, &updatedAt, &t.StatusUpdatedAt,
		&t.Owner, &t.AssignedTo, &t.Title, &t.Description, &t.Status, &t.StatusReason)
	if err != nil {
		return Task{}, err
	}
	t.UpdatedAt = parseUpdatedAt(updatedAt.String, t.StatusUpdatedAt, t.CreatedAt)
	if t.UpdatedAt < t.CreatedAt {
		t.UpdatedAt = t.CreatedAt
	}
	return t, nil
}
