package painting

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/job"
	"github.com/throw-if-null/easel/internal/llm"
	"github.com/throw-if-null/easel/internal/midjourney"
	"github.com/throw-if-null/easel/internal/paths"
	"github.com/throw-if-null/easel/internal/rewrite"
	"github.com/throw-if-null/easel/internal/store"
)

type fakeBackend struct {
	mu         sync.Mutex
	submitted  []string
	dispatched []api.ActionRequest
	pollErr    error
}

func (f *fakeBackend) Submit(_ context.Context, prompt string, _ api.BotType) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, prompt)
	return "T1", nil
}

func (f *fakeBackend) Dispatch(_ context.Context, req api.ActionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, req)
	return "T2", nil
}

func (f *fakeBackend) Poll(_ context.Context, id string) (*api.GenerationTask, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return &api.GenerationTask{ID: id, Status: api.StatusSuccess, Progress: api.ProgressDone, ImageURL: "https://img/" + id}, nil
}

type fakeCompleter struct {
	got llm.Request
	out string
	err error
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.got = req
	return f.out, f.err
}

func setup(t *testing.T, cfg config.Config, b Backend) (*Service, *store.Store, *job.Runner) {
	t.Helper()
	st, db, err := store.Open(filepath.Join(t.TempDir(), "easel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	runner := job.NewRunner(st, time.Minute, job.WithTimeoutErrors(midjourney.ErrPollTimeout))
	t.Cleanup(runner.Wait)
	opts := []Option{}
	if b != nil {
		opts = append(opts, WithBackend(func(config.MidjourneyConfig) (Backend, error) { return b, nil }))
	}
	return New(config.NewManager(t.TempDir(), cfg), runner, st, opts...), st, runner
}

func configured() config.Config {
	cfg := config.Default()
	cfg.Midjourney.APIKey = "k"
	cfg.Midjourney.APIBaseURL = "https://mj.example"
	return cfg
}

func TestStartImagine_CachesLastTask(t *testing.T) {
	fb := &fakeBackend{}
	svc, st, _ := setup(t, configured(), fb)
	ctx := context.Background()

	h, err := svc.StartImagine(ctx, "u1", "a cat", api.BotNiji)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if res.BackendTaskID != "T1" || res.ImageURL != "https://img/T1" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if id, err := st.LastTask(ctx, "u1"); err != nil || id != "T1" {
		t.Fatalf("last task: %q err=%v", id, err)
	}
	j, err := st.GetJob(h.ID)
	if err != nil || j.Status != api.JobSucceeded || j.BackendTaskID != "T1" {
		t.Fatalf("job record: %+v err=%v", j, err)
	}
}

func TestStartImagine_PollTimeoutLeavesCache(t *testing.T) {
	fb := &fakeBackend{pollErr: midjourney.ErrPollTimeout}
	svc, st, _ := setup(t, configured(), fb)
	ctx := context.Background()

	h, err := svc.StartImagine(ctx, "u1", "a cat", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.Wait(ctx); !errors.Is(err, midjourney.ErrPollTimeout) {
		t.Fatalf("expected poll timeout, got %v", err)
	}
	if h.Status() != api.JobTimeout {
		t.Fatalf("status: %s", h.Status())
	}
	if _, err := st.LastTask(ctx, "u1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed job must not cache a task: %v", err)
	}
}

func TestStartImagine_NotConfigured(t *testing.T) {
	svc, _, _ := setup(t, config.Default(), nil)
	if svc.Configured() {
		t.Fatalf("default config should not be configured")
	}
	if _, err := svc.StartImagine(context.Background(), "u", "x", ""); !errors.Is(err, midjourney.ErrConfigMissing) {
		t.Fatalf("expected ErrConfigMissing, got %v", err)
	}
}

func TestResolveSourceAndAction(t *testing.T) {
	fb := &fakeBackend{}
	svc, st, _ := setup(t, configured(), fb)
	ctx := context.Background()

	if _, err := svc.ResolveSource(ctx, "u1", ""); !errors.Is(err, ErrNoLastTask) {
		t.Fatalf("expected ErrNoLastTask, got %v", err)
	}
	if id, _ := svc.ResolveSource(ctx, "u1", " X9 "); id != "X9" {
		t.Fatalf("explicit id: %q", id)
	}
	if _, err := svc.ResolveSource(ctx, "u1", "x?list=all"); !errors.Is(err, paths.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if err := st.SetLastTask(ctx, "u1", "T1", store.LastTaskTTL); err != nil {
		t.Fatal(err)
	}
	src, err := svc.ResolveSource(ctx, "u1", "")
	if err != nil || src != "T1" {
		t.Fatalf("fallback: %q err=%v", src, err)
	}

	req := api.ActionRequest{Action: api.ActionUpscale, Position: 2, SourceTaskID: src}
	h, err := svc.StartAction(ctx, "u1", req)
	if err != nil {
		t.Fatalf("start action: %v", err)
	}
	res, err := h.Wait(ctx)
	if err != nil || res.BackendTaskID != "T2" {
		t.Fatalf("action result: %+v err=%v", res, err)
	}
	if len(fb.dispatched) != 1 || fb.dispatched[0] != req {
		t.Fatalf("dispatched: %+v", fb.dispatched)
	}
	if id, _ := st.LastTask(ctx, "u1"); id != "T2" {
		t.Fatalf("action result should become the last task, got %q", id)
	}
}

func TestTranslate(t *testing.T) {
	cfg := configured()
	fc := &fakeCompleter{out: " cinematic cat "}
	var built llm.Config
	svc, _, _ := setup(t, cfg, &fakeBackend{})
	svc.newCompleter = func(c llm.Config) rewrite.Completer { built = c; return fc }

	if out, ok := svc.Translate(context.Background(), "猫"); ok || out != "猫" {
		t.Fatalf("disabled translation should pass through: %q %v", out, ok)
	}

	if err := svc.cfg.Update(func(c *config.Config) {
		c.Midjourney.Translation = config.TranslationConfig{Enabled: true, APIKey: "tk", BaseURL: "https://llm.example/", Model: "m"}
	}); err != nil {
		t.Fatal(err)
	}
	out, ok := svc.Translate(context.Background(), "猫")
	if !ok || out != "cinematic cat" {
		t.Fatalf("translate: %q %v", out, ok)
	}
	if built.BaseURL != "https://llm.example/v1" || built.APIKey != "tk" || built.Model != "m" {
		t.Fatalf("completer config: %+v", built)
	}
	if fc.got.System != rewrite.MidjourneyInstruction || fc.got.User != "猫" {
		t.Fatalf("request: %+v", fc.got)
	}
}
