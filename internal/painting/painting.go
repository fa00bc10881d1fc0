// Package painting runs Midjourney imagine and action jobs for both the
// chat plugin and the HTTP API.
package painting

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/job"
	"github.com/throw-if-null/easel/internal/llm"
	"github.com/throw-if-null/easel/internal/midjourney"
	"github.com/throw-if-null/easel/internal/paths"
	"github.com/throw-if-null/easel/internal/rewrite"
	"github.com/throw-if-null/easel/internal/store"
)

// ErrNoLastTask means no task id was given and the user has no cached one.
var ErrNoLastTask = errors.New("no task id and no recent task")

// Backend is the part of the Midjourney client a job needs.
type Backend interface {
	Submit(ctx context.Context, prompt string, bot api.BotType) (string, error)
	Dispatch(ctx context.Context, req api.ActionRequest) (string, error)
	Poll(ctx context.Context, taskID string) (*api.GenerationTask, error)
}

// LastTasks caches the most recent imagine task per user.
type LastTasks interface {
	SetLastTask(ctx context.Context, userID, taskID string, ttl time.Duration) error
	LastTask(ctx context.Context, userID string) (string, error)
}

type Service struct {
	cfg          *config.Manager
	runner       *job.Runner
	last         LastTasks
	log          logrus.FieldLogger
	newBackend   func(config.MidjourneyConfig) (Backend, error)
	newCompleter func(llm.Config) rewrite.Completer
}

type Option func(*Service)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithBackend replaces how a Midjourney client is built from config.
func WithBackend(fn func(config.MidjourneyConfig) (Backend, error)) Option {
	return func(s *Service) { s.newBackend = fn }
}

// WithCompleter replaces the chat model used for prompt translation.
func WithCompleter(fn func(llm.Config) rewrite.Completer) Option {
	return func(s *Service) { s.newCompleter = fn }
}

func New(cfg *config.Manager, runner *job.Runner, last LastTasks, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		runner: runner,
		last:   last,
		log:    logrus.StandardLogger(),
	}
	s.newBackend = func(c config.MidjourneyConfig) (Backend, error) {
		mc, err := midjourney.New(c, midjourney.WithLogger(s.log))
		if err != nil {
			return nil, err
		}
		return mc, nil
	}
	s.newCompleter = func(c llm.Config) rewrite.Completer { return llm.New(c) }
	for _, o := range opts {
		o(s)
	}
	return s
}

// backend builds a client from the live config, so settings changed over
// chat apply to the next job.
func (s *Service) backend() (Backend, error) {
	return s.newBackend(s.cfg.Get().Midjourney)
}

// Configured reports whether the key and base url are set.
func (s *Service) Configured() bool {
	c := s.cfg.Get().Midjourney
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.APIBaseURL) != ""
}

// Translate rewrites prompt when translation is enabled and configured.
// The second result is false when prompt is returned unchanged.
func (s *Service) Translate(ctx context.Context, prompt string) (string, bool) {
	t := s.cfg.Get().Midjourney.Translation
	if !t.Enabled || t.APIKey == "" || t.BaseURL == "" {
		return prompt, false
	}
	c := s.newCompleter(llm.Config{
		BaseURL: strings.TrimRight(t.BaseURL, "/") + "/v1",
		APIKey:  t.APIKey,
		Model:   t.Model,
	})
	return rewrite.New(c, rewrite.MidjourneyInstruction, s.log).Rewrite(ctx, prompt)
}

// StartImagine submits prompt and polls it in a background job. On success
// the task becomes the user's last task.
func (s *Service) StartImagine(ctx context.Context, userID, prompt string, bot api.BotType) (*job.Handle, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	if bot == "" {
		bot = api.BotMidjourney
	}
	return s.runner.Start(ctx, job.Spec{UserID: userID, Kind: api.JobImagine, Prompt: prompt}, func(ctx context.Context, h *job.Handle) (*job.Result, error) {
		id, err := b.Submit(ctx, prompt, bot)
		if err != nil {
			return nil, err
		}
		h.SetBackendTaskID(id)
		t, err := b.Poll(ctx, id)
		if err != nil {
			return &job.Result{BackendTaskID: id}, err
		}
		s.remember(ctx, userID, id)
		return &job.Result{BackendTaskID: id, ImageURL: t.ImageURL, Task: t}, nil
	})
}

// ResolveSource returns taskID, or the user's last task when it is empty.
// An explicit id that fails paths.ValidateID yields paths.ErrInvalidID.
func (s *Service) ResolveSource(ctx context.Context, userID, taskID string) (string, error) {
	if taskID = strings.TrimSpace(taskID); taskID != "" {
		if err := paths.ValidateID(taskID); err != nil {
			return "", err
		}
		return taskID, nil
	}
	id, err := s.last.LastTask(ctx, userID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && id == "") {
		return "", ErrNoLastTask
	}
	return id, err
}

// StartAction dispatches req against its source task and polls the new task,
// which then becomes the user's last task. req.SourceTaskID must already be
// resolved.
func (s *Service) StartAction(ctx context.Context, userID string, req api.ActionRequest) (*job.Handle, error) {
	b, err := s.backend()
	if err != nil {
		return nil, err
	}
	prompt := string(req.Action) + " " + req.SourceTaskID
	return s.runner.Start(ctx, job.Spec{UserID: userID, Kind: api.JobAction, Prompt: prompt}, func(ctx context.Context, h *job.Handle) (*job.Result, error) {
		id, err := b.Dispatch(ctx, req)
		if err != nil {
			return nil, err
		}
		h.SetBackendTaskID(id)
		t, err := b.Poll(ctx, id)
		if err != nil {
			return &job.Result{BackendTaskID: id}, err
		}
		s.remember(ctx, userID, id)
		return &job.Result{BackendTaskID: id, ImageURL: t.ImageURL, Task: t}, nil
	})
}

// remember makes id the user's last task. Cache errors are only logged.
func (s *Service) remember(ctx context.Context, userID, id string) {
	if err := s.last.SetLastTask(ctx, userID, id, store.LastTaskTTL); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("cache last task")
	}
}
