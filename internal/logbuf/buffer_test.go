package logbuf

import (
	"io"
	"log/slog"
	"testing"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := New(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		b.Add(Entry{Message: msg})
	}

	got := b.Snapshot(0)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []string{"b", "c", "d"}
	for i := range want {
		if got[i].Message != want[i] {
			t.Errorf("entry %d = %q, want %q", i, got[i].Message, want[i])
		}
	}
}

func TestSnapshotLimit(t *testing.T) {
	b := New(10)
	for _, msg := range []string{"a", "b", "c"} {
		b.Add(Entry{Message: msg})
	}

	got := b.Snapshot(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Message != "b" || got[1].Message != "c" {
		t.Errorf("snapshot = [%q %q], want newest two in order", got[0].Message, got[1].Message)
	}
}

func TestSubscribeReceivesNewEntries(t *testing.T) {
	b := New(10)
	b.Add(Entry{Message: "before"})

	ch, unsub := b.Subscribe()
	defer unsub()

	b.Add(Entry{Message: "after"})

	e := <-ch
	if e.Message != "after" {
		t.Errorf("received %q, want %q", e.Message, "after")
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra entry %q", extra.Message)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(10)
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
}

func TestHandlerCapturesRecords(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})
	logger := slog.New(NewHandler(inner, buf))

	logger.Info("task.created", "taskId", "t-1a2b3c4d")
	logger.Debug("ignored")

	got := buf.Snapshot(0)
	if len(got) != 1 {
		t.Fatalf("captured %d entries, want 1", len(got))
	}
	if got[0].Message != "task.created" {
		t.Errorf("message = %q", got[0].Message)
	}
	if got[0].Attrs["taskId"] != "t-1a2b3c4d" {
		t.Errorf("attrs = %v", got[0].Attrs)
	}
	if got[0].Level != "INFO" {
		t.Errorf("level = %q", got[0].Level)
	}
}

func TestHandlerWithAttrsAndGroup(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, nil)
	h := NewHandler(inner, buf).WithAttrs([]slog.Attr{slog.String("component", "scheduler")})
	logger := slog.New(h.(*Handler).WithGroup("sweep"))

	logger.Info("done", "count", 2)

	got := buf.Snapshot(0)
	if len(got) != 1 {
		t.Fatalf("captured %d entries, want 1", len(got))
	}
	if got[0].Attrs["sweep.count"] != int64(2) {
		t.Errorf("grouped attr = %v", got[0].Attrs)
	}
	if got[0].Attrs["component"] != "scheduler" {
		t.Errorf("pre-group attr = %v", got[0].Attrs)
	}
}
