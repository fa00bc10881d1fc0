// Package midjourney talks to a Midjourney-proxy deployment: it submits
// imagine and action tasks and polls them until they finish.
package midjourney

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gopkg.in/resty.v1"

	"github.com/throw-if-null/easel/internal/api"
	"github.com/throw-if-null/easel/internal/config"
	"github.com/throw-if-null/easel/internal/paths"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 120
)

type Client struct {
	rc           *resty.Client
	mode         string
	pollInterval time.Duration
	maxPolls     int
	sleep        func(ctx context.Context, d time.Duration) error
	log          logrus.FieldLogger
}

type Option func(*Client)

// WithSleeper replaces the wait between polls. Tests use it to avoid real delays.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.rc.SetTimeout(d) }
}

// New builds a client from the [midjourney] config section.
func New(cfg config.MidjourneyConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, ErrConfigMissing
	}
	rc := resty.New().
		SetHostURL(strings.TrimRight(cfg.APIBaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(60 * time.Second)

	c := &Client{
		rc:           rc,
		mode:         cfg.Mode,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		maxPolls:     cfg.MaxPolls,
		sleep:        sleepCtx,
		log:          logrus.StandardLogger(),
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxPolls <= 0 {
		c.maxPolls = DefaultMaxPolls
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func imaginePath(mode string) string {
	if mode == config.ModeSlow {
		return "/mj-relax/mj/submit/imagine"
	}
	return "/mj/submit/imagine"
}

// Submit starts an imagine task and returns the backend task id.
func (c *Client) Submit(ctx context.Context, prompt string, bot api.BotType) (string, error) {
	body := api.ImagineRequest{
		Base64Array: []string{},
		BotType:     bot,
		Prompt:      prompt,
	}
	return c.submit(ctx, imaginePath(c.mode), body)
}

// SubmitAction posts a composite custom id against an existing task.
func (c *Client) SubmitAction(ctx context.Context, customID, taskID string) (string, error) {
	return c.submit(ctx, "/mj/submit/action", api.ActionSubmitRequest{CustomID: customID, TaskID: taskID})
}

func (c *Client) submit(ctx context.Context, path string, body any) (string, error) {
	resp, err := c.rc.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: %s returned %s", ErrTransport, path, resp.Status())
	}
	id := gjson.GetBytes(resp.Body(), "result").String()
	if id == "" {
		desc := gjson.GetBytes(resp.Body(), "description").String()
		if desc != "" {
			return "", fmt.Errorf("%w: %s", ErrSubmission, desc)
		}
		return "", ErrSubmission
	}
	return id, nil
}

// Fetch reads the current snapshot of a task. Ids that are not plain
// path segments are rejected before any request is made.
func (c *Client) Fetch(ctx context.Context, taskID string) (*api.GenerationTask, error) {
	if err := paths.ValidateID(taskID); err != nil {
		return nil, fmt.Errorf("fetch task %q: %w", taskID, err)
	}
	resp, err := c.rc.R().SetContext(ctx).
		SetPathParams(map[string]string{"id": taskID}).
		Get("/mj/task/{id}/fetch")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: fetch %s returned %s", ErrTransport, taskID, resp.Status())
	}
	var t api.GenerationTask
	if err := json.Unmarshal(resp.Body(), &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &t, nil
}
