package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 2; i++ {
		j, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		if err := j.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunLifecycle(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	run := &Run{
		ID:        "run-1",
		Command:   "apply",
		Status:    "running",
		Creates:   3,
		Updates:   1,
		Destroys:  0,
		StartedAt: time.Now().UTC(),
	}
	if err := j.RecordRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := j.CompleteRun(ctx, "run-1", "succeeded", ""); err != nil {
		t.Fatal(err)
	}

	runs, err := j.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	got := runs[0]
	if got.ID != "run-1" || got.Command != "apply" || got.Status != "succeeded" {
		t.Errorf("run = %+v", got)
	}
	if got.Creates != 3 || got.Updates != 1 || got.Destroys != 0 {
		t.Errorf("counts = %d %d %d", got.Creates, got.Updates, got.Destroys)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestCompleteUnknownRun(t *testing.T) {
	j := openTestJournal(t)
	if err := j.CompleteRun(context.Background(), "absent", "failed", "boom"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestActionsKeepExecutionOrder(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	run := &Run{ID: "run-2", Command: "apply", Status: "running", StartedAt: time.Now().UTC()}
	if err := j.RecordRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	names := []string{"k8s-pool", "k8s-net", "master-0"}
	for _, name := range names {
		rec := &ActionRecord{
			RunID:      "run-2",
			Op:         "create",
			Kind:       "pool",
			Name:       name,
			Status:     "succeeded",
			Duration:   1500 * time.Millisecond,
			ExecutedAt: time.Now().UTC(),
		}
		if err := j.RecordAction(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := j.ListActions(ctx, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != len(names) {
		t.Fatalf("actions = %d", len(recs))
	}
	for i, name := range names {
		if recs[i].Name != name {
			t.Errorf("action %d = %s, want %s", i, recs[i].Name, name)
		}
	}
	if recs[0].Duration != 1500*time.Millisecond {
		t.Errorf("duration = %s", recs[0].Duration)
	}
}

func TestListRunsMostRecentFirst(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		run := &Run{ID: id, Command: "apply", Status: "succeeded", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := j.RecordRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := j.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("unexpected order: %+v", runs)
	}
}
