package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/opengoat/internal/authz"
)

// allowAll authorizes everything; denyAll nothing.
type allowAll struct{}

func (allowAll) AuthorizeTask(actorID, owner, assignee string) error { return nil }
func (allowAll) AuthorizeAssignment(actorID, assignee string) error  { return nil }

type denyAll struct{}

func (denyAll) AuthorizeTask(actorID, owner, assignee string) error { return authz.ErrCrossTree }
func (denyAll) AuthorizeAssignment(actorID, assignee string) error  { return authz.ErrCrossTree }

func openTestStore(t *testing.T, auth Authorizer) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "boards.sqlite"), auth)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t, allowAll{})
	ctx := context.Background()

	draft := Draft{
		Title:       "Ship the thing",
		Description: "All of it",
		Project:     "acme/widgets",
		AssignedTo:  "cto",
		Status:      StatusTodo,
	}
	created, err := s.CreateTask(ctx, "ceo", draft)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(created.TaskID, "t-") || len(created.TaskID) != 10 {
		t.Fatalf("taskId = %q", created.TaskID)
	}
	if created.Owner != "ceo" {
		t.Fatalf("owner = %q", created.Owner)
	}

	got, err := s.GetTask(ctx, created.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != draft.Title || got.Description != draft.Description ||
		got.Project != draft.Project || got.AssignedTo != draft.AssignedTo || got.Status != draft.Status {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt > got.UpdatedAt {
		t.Fatalf("createdAt %d > updatedAt %d", got.CreatedAt, got.UpdatedAt)
	}
}

func TestCaseInsensitiveIDPreservesCasing(t *testing.T) {
	s := openTestStore(t, allowAll{})
	ctx := context.Background()

	created, err := s.CreateTask(ctx, "ceo", Draft{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTask(ctx, strings.ToUpper(created.TaskID))
	if err != nil {
		t.Fatal(err)
	}
	if got.TaskID != created.TaskID {
		t.Fatalf("stored casing not preserved: %q vs %q", got.TaskID, created.TaskID)
	}
}

func TestStatusValidation(t *testing.T) {
	s := openTestStore(t, allowAll{})
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, "ceo", Draft{Title: "t", Status: "bogus"}); err == nil {
		t.Fatal("bogus status accepted")
	}

	for _, status := range []string{StatusBlocked, StatusPending} {
		_, err := s.CreateTask(ctx, "ceo", Draft{Title: "t", Status: status})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("status %s: err = %v", status, err)
		}
		want := fmt.Sprintf("Reason is required when task status is %q.", status)
		if verr.Msg != want {
			t.Fatalf("message = %q, want %q", verr.Msg, want)
		}
	}

	created, err := s.CreateTask(ctx, "ceo", Draft{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.UpdateTaskStatus(ctx, "ceo", created.TaskID, StatusBlocked, ""); err == nil {
		t.Fatal("blocked without reason accepted")
	}
	got, err := s.UpdateTaskStatus(ctx, "ceo", created.TaskID, StatusBlocked, "waiting on infra")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusBlocked || got.StatusReason != "waiting on infra" {
		t.Fatalf("got %+v", got)
	}
}

func TestAuthzGatesMutations(t *testing.T) {
	s := openTestStore(t, allowAll{})
	ctx := context.Background()
	created, err := s.CreateTask(ctx, "ceo", Draft{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}

	s.authz = denyAll{}
	if _, err := s.UpdateTaskStatus(ctx, "cto", created.TaskID, StatusDoing, ""); err != authz.ErrCrossTree {
		t.Fatalf("status update: %v", err)
	}
	if _, err := s.AddWorklog(ctx, "cto", created.TaskID, "note"); err != authz.ErrCrossTree {
		t.Fatalf("worklog: %v", err)
	}
	if _, err := s.CreateTask(ctx, "cto", Draft{Title: "x", AssignedTo: "qa"}); err != authz.ErrCrossTree {
		t.Fatalf("create: %v", err)
	}
}

func TestSideTableAppends(t *testing.T) {
	s := openTestStore(t, allowAll{})
	ctx := context.Background()
	created, err := s.CreateTask(ctx, "ceo", Draft{Title: "t"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.AddBlocker(ctx, "ceo", created.TaskID, "waiting on review"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddArtifact(ctx, "cto", created.TaskID, "https://example.com/pr/7"); err != nil {
		t.Fatal(err)
	}
	got, err := s.AddWorklog(ctx, "ceo", created.TaskID, "first pass done")
	if err != nil {
		t.Fatal(err)
	}

	if len(got.Blockers) != 1 || got.Blockers[0].CreatedBy != "ceo" {
		t.Fatalf("blockers: %+v", got.Blockers)
	}
	if len(got.Artifacts) != 1 || got.Artifacts[0].CreatedBy != "cto" {
		t.Fatalf("artifacts: %+v", got.Artifacts)
	}
	if len(got.Worklog) != 1 || got.Worklog[0].Content != "first pass done" {
		t.Fatalf("worklog: %+v", got.Worklog)
	}
}

func TestListLatestTasksClampAndOrder(t *testing.T) {
	s := openTestStore(t, allowAll{})
	ctx := context.Background()

	var ts int64 = 1000
	s.now = func() int64 { ts += 1000; return ts }

	for i := 0; i < 5; i++ {
		if _, err := s.CreateTask(ctx, "ceo", Draft{Title: fmt.Sprintf("task %d", i), AssignedTo: "cto"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListLatestTasks(ctx, "cto", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].CreatedAt < got[1].CreatedAt || got[1].CreatedAt < got[2].CreatedAt {
		t.Fatalf("not createdAt desc: %+v", got)
	}

	// limit above the cap clamps to 100 (and here returns all five).
	got, err = s.ListLatestTasks(ctx, "", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("len = %d", len(got))
	}
}

func TestDeleteTasksDeduplicates(t *testing.T) {
	s := openTestStore(t, allowAll{})
	ctx := context.Background()

	a, _ := s.CreateTask(ctx, "ceo", Draft{Title: "a"})
	b, _ := s.CreateTask(ctx, "ceo", Draft{Title: "b"})

	res, err := s.DeleteTasks(ctx, "ceo", []string{a.TaskID, strings.ToUpper(a.TaskID), b.TaskID, "t-missing1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.DeletedCount != 2 || len(res.DeletedTaskIDs) != 2 {
		t.Fatalf("result: %+v", res)
	}
	if _, err := s.GetTask(ctx, a.TaskID); err != ErrTaskNotFound {
		t.Fatalf("a still present: %v", err)
	}
}

func TestDoingTimeoutAndReset(t *testing.T) {
	s := openTestStore(t, allowAll{})
	ctx := context.Background()

	var now int64 = 1_000_000
	s.now = func() int64 { return now }

	created, err := s.CreateTask(ctx, "ceo", Draft{Title: "t", Status: StatusDoing})
	if err != nil {
		t.Fatal(err)
	}

	now += 4 * 60_000
	ids, err := s.ListDoingTaskIdsOlderThan(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != created.TaskID {
		t.Fatalf("ids = %v", ids)
	}

	if err := s.ResetTaskStatusTimeout(ctx, created.TaskID, StatusDoing); err != nil {
		t.Fatal(err)
	}
	ids, err = s.ListDoingTaskIdsOlderThan(ctx, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("ids after reset = %v", ids)
	}

	got, err := s.GetTask(ctx, created.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDoing {
		t.Fatalf("reset changed status to %q", got.Status)
	}
}

func TestLegacyBoardMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boards.sqlite")

	// Build a pre-migration board: project column present, updated_at absent.
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`
		CREATE TABLE tasks (
			task_id              TEXT PRIMARY KEY,
			board_id             TEXT NOT NULL DEFAULT '',
			project              TEXT,
			created_at           INTEGER NOT NULL,
			status_updated_at    INTEGER NOT NULL,
			owner_agent_id       TEXT NOT NULL,
			assigned_to_agent_id TEXT NOT NULL,
			title                TEXT NOT NULL,
			description          TEXT,
			status               TEXT NOT NULL,
			status_reason        TEXT
		)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`
		INSERT INTO tasks (task_id, project, created_at, status_updated_at,
		                   owner_agent_id, assigned_to_agent_id, title, status)
		VALUES ('t-legacy01', 'old/project', 111, 222, 'ceo', 'cto', 'legacy task', 'todo')`); err != nil {
		t.Fatal(err)
	}
	db.Close()

	s, err := Open(path, allowAll{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	hasProject, err := columnExistsDB(s.db, "tasks", "project")
	if err != nil {
		t.Fatal(err)
	}
	if hasProject {
		t.Fatal("project column survived")
	}
	hasUpdatedAt, err := columnExistsDB(s.db, "tasks", "updated_at")
	if err != nil {
		t.Fatal(err)
	}
	if !hasUpdatedAt {
		t.Fatal("updated_at column missing")
	}

	got, err := s.GetTask(context.Background(), "T-LEGACY01")
	if err != nil {
		t.Fatal(err)
	}
	if got.Project != "old/project" {
		t.Fatalf("project value lost: %+v", got)
	}
	if got.UpdatedAt != 222 {
		t.Fatalf("updated_at backfill = %d, want status_updated_at 222", got.UpdatedAt)
	}

	// Indices exist.
	rows, err := s.db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'tasks'")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		found[name] = true
	}
	for _, want := range []string{"idx_tasks_status", "idx_tasks_created_at", "idx_tasks_assignee_created_at"} {
		if !found[want] {
			t.Fatalf("missing index %s (have %v)", want, found)
		}
	}

	// Re-open is a no-op.
	s.Close()
	if _, err := Open(path, allowAll{}); err != nil {
		t.Fatalf("second open: %v", err)
	}
}
