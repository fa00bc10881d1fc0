// Package siliconflow calls the SiliconFlow image generation API.
package siliconflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/resty.v1"

	"github.com/throw-if-null/easel/internal/api"
)

var (
	ErrGeneration = errors.New("image generation failed")
	ErrTransport  = errors.New("transport error")
)

var img2imgModels = regexp.MustCompile(`stabilityai/stable-diffusion-3-medium|stabilityai/stable-diffusion-xl-base-1\.0|stabilityai/stable-diffusion-2-1|stabilityai/stable-diffusion-3-5-large`)

// SupportsImg2Img reports whether model accepts a source image.
func SupportsImg2Img(model string) bool {
	return img2imgModels.MatchString(model)
}

// APIError is a response without images. It matches ErrGeneration.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", ErrGeneration, e.Message)
}

func (e *APIError) Unwrap() error { return ErrGeneration }

type Client struct {
	rc *resty.Client
}

func New(baseURL string) *Client {
	rc := resty.New().
		SetHostURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(180 * time.Second)
	return &Client{rc: rc}
}

// Generate posts req with key and returns the first image. A response
// without images is ErrGeneration carrying the API's message.
func (c *Client) Generate(ctx context.Context, key string, req api.ImageGenerationRequest) (*api.ImageGenerationResponse, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetAuthToken(key).
		SetBody(req).
		Post("/image/generations")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}

	var out api.ImageGenerationResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrGeneration, resp.Status(), err)
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		msg := out.Message
		if msg == "" {
			msg = "未知错误"
		}
		return &out, &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return &out, nil
}
