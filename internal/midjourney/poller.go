package midjourney

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/throw-if-null/easel/internal/api"
)

// Poll waits one interval before every fetch and returns the first
// snapshot that is SUCCESS at 100%. FAILURE ends the loop at once. Fetch
// errors are logged and use up one iteration of the budget; no fetch is
// made once the budget is spent.
func (c *Client) Poll(ctx context.Context, taskID string) (*api.GenerationTask, error) {
	span := trace.SpanFromContext(ctx)
	log := c.log.WithFields(logrus.Fields{"task_id": taskID})

	for attempt := 1; attempt <= c.maxPolls; attempt++ {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, err
		}

		t, err := c.Fetch(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.WithError(err).WithField("attempt", attempt).Warn("poll fetch failed")
			span.AddEvent("poll.error", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("error", err.Error()),
			))
			continue
		}

		span.AddEvent("poll.attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("status", string(t.Status)),
			attribute.String("progress", t.Progress),
		))

		if t.Done() {
			log.WithField("attempt", attempt).Info("task finished")
			return t, nil
		}
		if t.Status == api.StatusFailure {
			log.WithField("reason", t.FailReason).Warn("task failed")
			if t.FailReason != "" {
				return t, fmt.Errorf("%w: %s", ErrTaskFailed, t.FailReason)
			}
			return t, ErrTaskFailed
		}
		log.WithFields(logrus.Fields{"status": t.Status, "progress": t.Progress}).Debug("task pending")
	}
	return nil, fmt.Errorf("%w: %d fetches for %s", ErrPollTimeout, c.maxPolls, taskID)
}
