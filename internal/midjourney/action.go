package midjourney

import (
	"context"
	"fmt"

	"github.com/throw-if-null/easel/internal/api"
)

var positions = map[string]int{
	"左上": 1, "右上": 2, "左下": 3, "右下": 4,
	"top-left": 1, "top-right": 2, "bottom-left": 3, "bottom-right": 4,
	"1": 1, "2": 2, "3": 3, "4": 4,
}

// ParsePosition maps a quadrant label to its 1-based grid index.
func ParsePosition(s string) (int, error) {
	if p, ok := positions[s]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPosition, s)
}

var actionNames = map[string]api.ActionKind{
	"放大": api.ActionUpscale, "upscale": api.ActionUpscale, "UPSCALE": api.ActionUpscale,
	"微调": api.ActionVariation, "variation": api.ActionVariation, "VARIATION": api.ActionVariation,
	"重绘": api.ActionReroll, "reroll": api.ActionReroll, "REROLL": api.ActionReroll,
}

// ParseAction maps a chat or API action name to its kind.
func ParseAction(s string) (api.ActionKind, bool) {
	k, ok := actionNames[s]
	return k, ok
}

// CustomID builds the button id the proxy expects for an action.
func CustomID(kind api.ActionKind, position int, messageHash string) (string, error) {
	if messageHash == "" {
		return "", ErrMissingMessageHash
	}
	switch kind {
	case api.ActionReroll:
		return "MJ::JOB::reroll::0::" + messageHash + "::SOLO", nil
	case api.ActionUpscale, api.ActionVariation:
		if position < 1 || position > 4 {
			return "", fmt.Errorf("%w: %d", ErrInvalidPosition, position)
		}
		verb := "upsample"
		if kind == api.ActionVariation {
			verb = "variation"
		}
		return fmt.Sprintf("MJ::JOB::%s::%d::%s", verb, position, messageHash), nil
	default:
		return "", fmt.Errorf("unknown action %q", kind)
	}
}

// Dispatch resolves the source task, builds the custom id and submits the
// action. It returns the new backend task id, which callers then Poll.
func (c *Client) Dispatch(ctx context.Context, req api.ActionRequest) (string, error) {
	src, err := c.Fetch(ctx, req.SourceTaskID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceFetch, err)
	}
	customID, err := CustomID(req.Action, req.Position, src.Properties.MessageHash)
	if err != nil {
		return "", err
	}
	c.log.WithField("task_id", req.SourceTaskID).WithField("custom_id", customID).Debug("submitting action")
	return c.SubmitAction(ctx, customID, req.SourceTaskID)
}
