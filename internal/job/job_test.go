package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/throw-if-null/easel/internal/api"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*api.Job
}

func newMemStore() *memStore { return &memStore{jobs: map[string]*api.Job{}} }

func (m *memStore) CreateJob(j *api.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j.Status = api.JobRunning
	cp := *j
	m.jobs[j.JobID] = &cp
	return nil
}

func (m *memStore) SetBackendTaskID(jobID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID].BackendTaskID = taskID
	return nil
}

func (m *memStore) FinishJob(jobID string, status api.JobStatus, imageURL, errMsg string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[jobID]
	if j.Status != api.JobRunning {
		return false, nil
	}
	j.Status, j.ImageURL, j.Error = status, imageURL, errMsg
	return true, nil
}

func (m *memStore) get(id string) api.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func newTestRunner(s Store, deadline time.Duration, opts ...Option) *Runner {
	logger, _ := logtest.NewNullLogger()
	return NewRunner(s, deadline, append([]Option{WithLogger(logger)}, opts...)...)
}

func TestRunner_Success(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	s := newMemStore()
	r := newTestRunner(s, time.Minute)
	h, err := r.Start(context.Background(), Spec{UserID: "u1", Kind: api.JobImagine, Prompt: "cat"},
		func(ctx context.Context, h *Handle) (*Result, error) {
			h.SetBackendTaskID("T1")
			return &Result{BackendTaskID: "T1", ImageURL: "https://img"}, nil
		})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := h.Wait(context.Background())
	if err != nil || res.ImageURL != "https://img" {
		t.Fatalf("wait: res=%+v err=%v", res, err)
	}
	if h.Status() != api.JobSucceeded {
		t.Fatalf("status=%s", h.Status())
	}
	got := s.get(h.ID)
	if got.Status != api.JobSucceeded || got.BackendTaskID != "T1" || got.ImageURL != "https://img" {
		t.Fatalf("store not updated: %+v", got)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "easel.job" {
		t.Fatalf("expected one easel.job span, got %d", len(spans))
	}
	var events []string
	for _, e := range spans[0].Events {
		events = append(events, e.Name)
	}
	if len(events) != 2 || events[0] != "job.started" || events[1] != "job.succeeded" {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestRunner_AbandonStopsWork(t *testing.T) {
	s := newMemStore()
	r := newTestRunner(s, time.Minute)
	started := make(chan struct{})
	h, err := r.Start(context.Background(), Spec{UserID: "u", Kind: api.JobImagine},
		func(ctx context.Context, h *Handle) (*Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	if !r.Cancel(h.ID) {
		t.Fatalf("cancel did not find job")
	}
	if _, err := h.Wait(context.Background()); !errors.Is(err, ErrAbandoned) {
		t.Fatalf("expected ErrAbandoned, got %v", err)
	}
	if s.get(h.ID).Status != api.JobAbandoned {
		t.Fatalf("store status=%s", s.get(h.ID).Status)
	}
	if r.Cancel(h.ID) {
		t.Fatalf("finished job still registered")
	}
}

func TestRunner_DeadlineIsTimeout(t *testing.T) {
	s := newMemStore()
	r := newTestRunner(s, 20*time.Millisecond)
	h, _ := r.Start(context.Background(), Spec{UserID: "u", Kind: api.JobAction},
		func(ctx context.Context, h *Handle) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})
	if _, err := h.Wait(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if h.Status() != api.JobTimeout {
		t.Fatalf("status=%s", h.Status())
	}
}

func TestRunner_TimeoutErrorsAndFailures(t *testing.T) {
	errBudget := errors.New("poll budget exhausted")
	s := newMemStore()
	r := newTestRunner(s, time.Minute, WithTimeoutErrors(errBudget))

	h1, _ := r.Start(context.Background(), Spec{UserID: "u", Kind: api.JobImagine},
		func(context.Context, *Handle) (*Result, error) { return nil, errBudget })
	h2, _ := r.Start(context.Background(), Spec{UserID: "u", Kind: api.JobImagine},
		func(context.Context, *Handle) (*Result, error) { return nil, errors.New("boom") })
	r.Wait()

	if h1.Status() != api.JobTimeout {
		t.Fatalf("h1 status=%s", h1.Status())
	}
	if h2.Status() != api.JobFailed || s.get(h2.ID).Error != "boom" {
		t.Fatalf("h2 status=%s job=%+v", h2.Status(), s.get(h2.ID))
	}
}

func TestRunner_OutlivesCallerContext(t *testing.T) {
	s := newMemStore()
	r := newTestRunner(s, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	h, _ := r.Start(ctx, Spec{UserID: "u", Kind: api.JobImagine},
		func(jctx context.Context, h *Handle) (*Result, error) {
			<-release
			return &Result{}, jctx.Err()
		})
	cancel()
	close(release)
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatalf("job inherited caller cancellation: %v", err)
	}
}

func TestHandle_WaitRespectsContext(t *testing.T) {
	s := newMemStore()
	r := newTestRunner(s, time.Minute)
	release := make(chan struct{})
	h, _ := r.Start(context.Background(), Spec{UserID: "u", Kind: api.JobImagine},
		func(context.Context, *Handle) (*Result, error) { <-release; return &Result{}, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wait deadline, got %v", err)
	}
	if h.Status() != api.JobRunning {
		t.Fatalf("status=%s", h.Status())
	}
	close(release)
	r.Wait()
}

func TestRunner_AbandonAll(t *testing.T) {
	s := newMemStore()
	r := newTestRunner(s, time.Minute)
	var hs []*Handle
	for range 3 {
		h, err := r.Start(context.Background(), Spec{UserID: "u", Kind: api.JobDraw},
			func(ctx context.Context, h *Handle) (*Result, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			})
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		hs = append(hs, h)
	}
	r.AbandonAll()
	r.Wait()
	for _, h := range hs {
		if got := s.get(h.ID).Status; got != api.JobAbandoned {
			t.Fatalf("job %s status=%s", h.ID, got)
		}
	}
}
