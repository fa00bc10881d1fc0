// Package llm wraps OpenAI-compatible chat completion endpoints.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

var ErrEmptyAnswer = errors.New("model returned no content")

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Request is a single-turn exchange. ImageDataURL, when set, is sent as a
// vision content part next to the user text.
type Request struct {
	System       string
	User         string
	ImageDataURL string
}

type Client struct {
	oc    openai.Client
	model string
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/") + "/"
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		oc: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(base),
			option.WithMaxRetries(0),
			option.WithRequestTimeout(timeout),
		),
		model: cfg.Model,
	}
}

func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	if req.ImageDataURL != "" {
		msgs = append(msgs, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.User),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: req.ImageDataURL}),
		}))
	} else {
		msgs = append(msgs, openai.UserMessage(req.User))
	}

	resp, err := c.oc.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: msgs,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyAnswer
	}
	return resp.Choices[0].Message.Content, nil
}
