// Package gemini answers #gg questions with a search-grounded Gemini model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/throw-if-null/easel/internal/config"
)

// redirectPrefix is where grounding links point before optional rewriting.
const redirectPrefix = "https://vertexaisearch.cloud.google.com/grounding-api-redirect"

var ErrNoCandidates = errors.New("gemini returned no candidates")

type Source struct {
	Title string
	URL   string
}

type Answer struct {
	Text    string
	Sources []Source
}

// KeySource hands out the key for the next call.
type KeySource interface {
	Next(list string) string
}

type Client struct {
	cfg  config.GeminiConfig
	keys KeySource
}

func New(cfg config.GeminiConfig, keys KeySource) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = config.DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultGeminiModel
	}
	if cfg.Prompt == "" {
		cfg.Prompt = config.DefaultGeminiPrompt
	}
	return &Client{cfg: cfg, keys: keys}
}

// Ask sends question, plus an optional JPEG image, with the googleSearch tool enabled.
func (c *Client) Ask(ctx context.Context, question string, image []byte) (*Answer, error) {
	key := c.keys.Next(c.cfg.Keys)
	if key == "" {
		key = config.DefaultGeminiKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: strings.TrimRight(c.cfg.BaseURL, "/") + "/",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	parts := []*genai.Part{genai.NewPartFromText(question)}
	if len(image) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: image}})
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, c.cfg.Model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(c.cfg.Prompt, genai.RoleUser),
		Tools:             []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrNoCandidates
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	ans := &Answer{Text: sb.String()}
	if cand.GroundingMetadata != nil {
		ans.Sources = collectSources(cand.GroundingMetadata.GroundingChunks, c.cfg.SourceRedirectHost)
	}
	return ans, nil
}

// collectSources keeps web chunks only, rewrites redirect links when
// redirectHost is set and drops repeated (title, url) pairs.
func collectSources(chunks []*genai.GroundingChunk, redirectHost string) []Source {
	var out []Source
	seen := make(map[Source]struct{})
	for _, ch := range chunks {
		if ch == nil || ch.Web == nil {
			continue
		}
		s := Source{Title: ch.Web.Title, URL: ch.Web.URI}
		if redirectHost != "" && strings.HasPrefix(s.URL, redirectPrefix) {
			s.URL = strings.TrimRight(redirectHost, "/") + strings.TrimPrefix(s.URL, redirectPrefix)
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
