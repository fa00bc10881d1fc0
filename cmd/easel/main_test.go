package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/throw-if-null/easel/internal/api"
)

type fakeDaemon struct {
	polls    atomic.Int32
	lastBody map[string]any
}

func (f *fakeDaemon) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/imagine", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"job_id":"job-1","kind":"imagine","prompt":"a cat","status":"running"}`))
	})
	mux.HandleFunc("/v1/actions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no task_id given and no recent task for user"}`))
	})
	mux.HandleFunc("/v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var jobs []api.Job
		for i := 1; i <= 3; i++ {
			jobs = append(jobs, api.Job{JobID: fmt.Sprintf("job-%d", i), Kind: api.JobImagine, Status: api.JobSucceeded})
		}
		if r.URL.Query().Get("limit") == "2" {
			jobs = jobs[:2]
		}
		_ = json.NewEncoder(w).Encode(jobs)
	})
	mux.HandleFunc("/v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		status := "running"
		if f.polls.Add(1) >= 2 {
			status = "succeeded"
		}
		_, _ = w.Write([]byte(`{"job_id":"job-1","kind":"imagine","prompt":"a cat","status":"` + status + `","backend_task_id":"T1","image_url":"https://cdn/1.png"}`))
	})
	mux.HandleFunc("/v1/jobs/job-1/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_, _ = w.Write([]byte("cancelled"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, base string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &http.Client{}, base, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestImagine(t *testing.T) {
	f := &fakeDaemon{}
	ts := f.server(t)

	code, out, errOut := runCLI(t, ts.URL, "imagine", "--user", "u1", "--bot", "niji_journey", "a", "cat")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if f.lastBody["user_id"] != "u1" || f.lastBody["prompt"] != "a cat" || f.lastBody["bot"] != "niji_journey" {
		t.Fatalf("unexpected request body: %v", f.lastBody)
	}
	if !strings.Contains(out, "job job-1 (imagine) running") || !strings.Contains(out, "prompt: a cat") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestImagine_Wait(t *testing.T) {
	f := &fakeDaemon{}
	ts := f.server(t)

	code, out, errOut := runCLI(t, ts.URL, "imagine", "--user", "u1", "--wait", "--interval", "1ms", "a cat")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "succeeded") || !strings.Contains(out, "image: https://cdn/1.png") {
		t.Fatalf("unexpected output: %s", out)
	}
	if f.polls.Load() < 2 {
		t.Fatalf("expected polling, got %d fetches", f.polls.Load())
	}
}

func TestImagine_MissingUser(t *testing.T) {
	f := &fakeDaemon{}
	ts := f.server(t)
	if code, _, errOut := runCLI(t, ts.URL, "imagine", "a cat"); code != 2 || !strings.Contains(errOut, "--user") {
		t.Fatalf("expected usage exit 2, got %d: %s", code, errOut)
	}
}

func TestAction_ServerError(t *testing.T) {
	f := &fakeDaemon{}
	ts := f.server(t)

	code, _, errOut := runCLI(t, ts.URL, "action", "--user", "u1", "upscale", "2")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errOut, "no recent task") {
		t.Fatalf("server error not shown: %s", errOut)
	}
	if f.lastBody["action"] != "UPSCALE" || f.lastBody["position"] != "2" {
		t.Fatalf("unexpected request body: %v", f.lastBody)
	}

	if code, _, _ := runCLI(t, ts.URL, "action", "--user", "u1"); code != 2 {
		t.Fatalf("missing action should be a usage error, got %d", code)
	}
}

func TestJobsJobCancel(t *testing.T) {
	f := &fakeDaemon{}
	ts := f.server(t)

	code, out, _ := runCLI(t, ts.URL, "jobs", "--json")
	if code != 0 {
		t.Fatalf("jobs exit %d", code)
	}
	var jobs []map[string]any
	if err := json.Unmarshal([]byte(out), &jobs); err != nil || len(jobs) != 3 {
		t.Fatalf("jobs --json: %v %s", err, out)
	}

	code, out, _ = runCLI(t, ts.URL, "jobs", "--limit", "2")
	if code != 0 || strings.Count(out, "\n") != 2 || !strings.HasPrefix(out, "job-1\timagine\tsucceeded") {
		t.Fatalf("jobs --limit: code=%d out=%q", code, out)
	}

	code, out, _ = runCLI(t, ts.URL, "job", "--json", "job-1")
	var j map[string]any
	if code != 0 || json.Unmarshal([]byte(out), &j) != nil || j["job_id"] != "job-1" {
		t.Fatalf("job --json: code=%d out=%s", code, out)
	}

	code, out, _ = runCLI(t, ts.URL, "cancel", "job-1")
	if code != 0 || out != "job-1: cancelled\n" {
		t.Fatalf("cancel: code=%d out=%q", code, out)
	}

	if code, _, errOut := runCLI(t, ts.URL, "job", "missing"); code != 1 || !strings.Contains(errOut, "404") {
		t.Fatalf("missing job: code=%d err=%s", code, errOut)
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "http://127.0.0.1:0", "version")
	if code != 0 || !strings.HasPrefix(out, "easel ") {
		t.Fatalf("version: code=%d out=%q", code, out)
	}
}
