package store

import (
	"testing"

	"github.com/throw-if-null/easel/internal/api"
)

func TestReconcileRunningJobs(t *testing.T) {
	s, cleanup := setupTestStore(t)
	defer cleanup()

	for _, id := range []string{"run-1", "run-2", "done-1"} {
		if err := s.CreateJob(&api.Job{JobID: id, UserID: "u", Kind: api.JobImagine, Prompt: "p"}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if _, err := s.FinishJob("done-1", api.JobSucceeded, "https://img", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}

	n, err := s.ReconcileRunningJobs()
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 reconciled jobs, got %d", n)
	}
	for _, id := range []string{"run-1", "run-2"} {
		j, err := s.GetJob(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if j.Status != api.JobAbandoned || j.Error != crashMsg {
			t.Fatalf("%s not reconciled: %+v", id, j)
		}
	}
	done, _ := s.GetJob("done-1")
	if done.Status != api.JobSucceeded {
		t.Fatalf("finished job touched: %+v", done)
	}

	// idempotent
	n, err = s.ReconcileRunningJobs()
	if err != nil || n != 0 {
		t.Fatalf("second reconcile: n=%d err=%v", n, err)
	}
}
