// Package job runs generation work in the background with a bounded
// deadline, records its lifecycle in the job store and traces it.
package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/throw-if-null/easel/internal/api"
)

// DefaultDeadline bounds a job. It is longer than a full poll budget
// (120 x 5s) so the poller reports its own timeout first.
const DefaultDeadline = 15 * time.Minute

var ErrAbandoned = errors.New("job abandoned")

type Store interface {
	CreateJob(j *api.Job) error
	SetBackendTaskID(jobID, taskID string) error
	FinishJob(jobID string, status api.JobStatus, imageURL, errMsg string) (bool, error)
}

type Spec struct {
	UserID string
	Kind   api.JobKind
	Prompt string
}

type Result struct {
	BackendTaskID string
	ImageURL      string
	Task          *api.GenerationTask
	// Extra carries kind specific output, e.g. a SiliconFlow response.
	Extra any
}

// Func does the work of a job. It should return promptly once ctx is done.
type Func func(ctx context.Context, h *Handle) (*Result, error)

type Runner struct {
	store       Store
	deadline    time.Duration
	log         logrus.FieldLogger
	timeoutErrs []error

	mu        sync.Mutex
	cancelers map[string]*Handle
	wg        sync.WaitGroup
}

type Option func(*Runner)

// WithTimeoutErrors lists errors that end a job as timeout rather than failed.
func WithTimeoutErrors(errs ...error) Option {
	return func(r *Runner) { r.timeoutErrs = append(r.timeoutErrs, errs...) }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

func NewRunner(s Store, deadline time.Duration, opts ...Option) *Runner {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	r := &Runner{
		store:     s,
		deadline:  deadline,
		log:       logrus.StandardLogger(),
		cancelers: map[string]*Handle{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type Handle struct {
	ID     string
	runner *Runner
	cancel context.CancelFunc
	done   chan struct{}

	abandoned atomic.Bool
	span      trace.Span

	// set before done is closed
	res    *Result
	err    error
	status api.JobStatus
}

// Start records a new running job and runs fn in its own goroutine. The
// job's context is detached from ctx's cancellation but keeps its values,
// so an HTTP request or chat handler returning does not stop the job.
func (r *Runner) Start(ctx context.Context, sp Spec, fn Func) (*Handle, error) {
	j := &api.Job{JobID: uuid.NewString(), UserID: sp.UserID, Kind: sp.Kind, Prompt: sp.Prompt}
	if err := r.store.CreateJob(j); err != nil {
		return nil, err
	}

	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.deadline)
	jctx, span := otel.Tracer("easel").Start(jctx, "easel.job", trace.WithAttributes(
		attribute.String("job.id", j.JobID),
		attribute.String("job.kind", string(sp.Kind)),
		attribute.String("user.id", sp.UserID),
	))
	h := &Handle{ID: j.JobID, runner: r, cancel: cancel, done: make(chan struct{}), span: span}

	r.mu.Lock()
	r.cancelers[h.ID] = h
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(jctx, h, fn)
	return h, nil
}

func (r *Runner) run(ctx context.Context, h *Handle, fn Func) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.cancelers, h.ID)
		r.mu.Unlock()
		h.cancel()
		close(h.done)
	}()

	log := r.log.WithField("job_id", h.ID)
	h.span.AddEvent("job.started")

	res, err := fn(ctx, h)
	status := r.classify(ctx, h, err)

	var imageURL, errMsg string
	if res != nil {
		imageURL = res.ImageURL
	}
	if err != nil {
		errMsg = err.Error()
	}
	if _, ferr := r.store.FinishJob(h.ID, status, imageURL, errMsg); ferr != nil {
		log.WithError(ferr).Error("record job result")
	}

	h.span.AddEvent("job." + string(status))
	if err != nil {
		h.span.RecordError(err)
		h.span.SetStatus(codes.Error, err.Error())
		log.WithError(err).WithField("status", status).Warn("job ended")
	} else {
		h.span.SetStatus(codes.Ok, "")
		log.Info("job succeeded")
	}
	h.span.End()

	if status == api.JobAbandoned {
		err = ErrAbandoned
	}
	h.res, h.err, h.status = res, err, status
}

func (r *Runner) classify(ctx context.Context, h *Handle, err error) api.JobStatus {
	switch {
	case h.abandoned.Load():
		return api.JobAbandoned
	case err == nil:
		return api.JobSucceeded
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return api.JobTimeout
	}
	for _, t := range r.timeoutErrs {
		if errors.Is(err, t) {
			return api.JobTimeout
		}
	}
	return api.JobFailed
}

// Cancel abandons the in-flight job with id. It reports false when no such
// job is running in this process.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	h, ok := r.cancelers[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	h.Abandon()
	return true
}

// AbandonAll abandons every in-flight job, as on daemon shutdown.
func (r *Runner) AbandonAll() {
	r.mu.Lock()
	hs := make([]*Handle, 0, len(r.cancelers))
	for _, h := range r.cancelers {
		hs = append(hs, h)
	}
	r.mu.Unlock()
	for _, h := range hs {
		h.Abandon()
	}
}

// Wait blocks until every started job has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// SetBackendTaskID records the backend task id as soon as it is known.
func (h *Handle) SetBackendTaskID(id string) {
	h.span.SetAttributes(attribute.String("backend.task_id", id))
	if err := h.runner.store.SetBackendTaskID(h.ID, id); err != nil {
		h.runner.log.WithError(err).WithField("job_id", h.ID).Warn("record backend task id")
	}
}

// Abandon cancels the job. The job ends as abandoned even if its work
// completes afterwards.
func (h *Handle) Abandon() {
	h.abandoned.Store(true)
	h.cancel()
}

func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait returns the job outcome, or ctx's error if ctx ends first. An
// abandoned job returns ErrAbandoned.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.res, h.err
	}
}

// Status is the terminal status, or running while the job is in flight.
func (h *Handle) Status() api.JobStatus {
	select {
	case <-h.done:
		return h.status
	default:
		return api.JobRunning
	}
}
