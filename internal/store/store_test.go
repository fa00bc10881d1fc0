package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/paths"
	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	td, err := os.MkdirTemp("", "easel-test-")
	if err != nil {
		t.Fatalf("tmpdir: %v", err)
	}
	dbpath := filepath.Join(td, "easel.db")
	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		os.RemoveAll(td)
		t.Fatalf("open db: %v", err)
	}
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000`)
	s := New(db)
	if err := s.Init(); err != nil {
		db.Close()
		os.RemoveAll(td)
		t.Fatalf("init: %v", err)
	}
	return s, func() { db.Close(); os.RemoveAll(td) }
}

func TestInitAndCreateJob(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	j := &api.Job{JobID: "job-1", UserID: "10001", Kind: api.JobImagine, Prompt: "a cat"}
	if err := s.CreateJob(j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if j.Status != api.JobRunning || j.CreatedAt == "" {
		t.Fatalf("job not initialised: %+v", j)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Prompt != "a cat" || got.Kind != api.JobImagine || got.Status != api.JobRunning {
		t.Fatalf("unexpected job: %+v", got)
	}

	if err := s.CreateJob(&api.Job{JobID: "job-1", UserID: "u", Kind: api.JobImagine}); err == nil {
		t.Fatalf("expected duplicate error")
	}

	// Init is idempotent
	if err := s.Init(); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

func TestCreateJob_InvalidID(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	err := s.CreateJob(&api.Job{JobID: "../x", UserID: "u", Kind: api.JobImagine})
	if !errors.Is(err, paths.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	if _, err := s.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListJobs_NewestFirstWithLimit(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		ts := base.Add(time.Duration(i) * time.Minute)
		s.now = func() time.Time { return ts }
		if err := s.CreateJob(&api.Job{JobID: id, UserID: "u", Kind: api.JobImagine}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	all, err := s.ListJobs(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].JobID != "c" || all[2].JobID != "a" {
		t.Fatalf("unexpected order: %v", ids(all))
	}
	two, err := s.ListJobs(2)
	if err != nil || len(two) != 2 {
		t.Fatalf("limit: %v err=%v", ids(two), err)
	}
}

func ids(js []*api.Job) []string {
	var out []string
	for _, j := range js {
		out = append(out, j.JobID)
	}
	return out
}

func TestFinishJob_FirstTerminalWins(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	if err := s.CreateJob(&api.Job{JobID: "j", UserID: "u", Kind: api.JobAction}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetBackendTaskID("j", "T9"); err != nil {
		t.Fatalf("set backend id: %v", err)
	}

	changed, err := s.FinishJob("j", api.JobAbandoned, "", "cancelled")
	if err != nil || !changed {
		t.Fatalf("abandon: changed=%v err=%v", changed, err)
	}
	changed, err = s.FinishJob("j", api.JobSucceeded, "https://img", "")
	if err != nil || changed {
		t.Fatalf("late success should not apply: changed=%v err=%v", changed, err)
	}
	got, _ := s.GetJob("j")
	if got.Status != api.JobAbandoned || got.BackendTaskID != "T9" || got.ImageURL != "" {
		t.Fatalf("unexpected job: %+v", got)
	}

	if _, err := s.FinishJob("nope", api.JobFailed, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FinishJob("j", api.JobRunning, "", ""); err == nil {
		t.Fatalf("expected error for non-terminal status")
	}
}

func TestLastTask_OverwriteAndExpiry(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if _, err := s.LastTask(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetLastTask(ctx, "u1", "T1", LastTaskTTL); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetLastTask(ctx, "u1", "T2", LastTaskTTL); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.LastTask(ctx, "u1")
	if err != nil || got != "T2" {
		t.Fatalf("got %q err=%v", got, err)
	}

	now = now.Add(LastTaskTTL - time.Second)
	if got, err := s.LastTask(ctx, "u1"); err != nil || got != "T2" {
		t.Fatalf("expired too early: %q err=%v", got, err)
	}
	now = now.Add(time.Second)
	if _, err := s.LastTask(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry after 7 days, got %v", err)
	}
}
