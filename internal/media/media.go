// Package media downloads chat images so they can be forwarded inline.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"gopkg.in/resty.v1"
)

var ErrExpired = errors.New("image url no longer reachable")

// MaxImageBytes bounds a single download.
const MaxImageBytes = 20 << 20

type Fetcher struct {
	rc *resty.Client
}

func NewFetcher() *Fetcher {
	return &Fetcher{rc: resty.New().SetTimeout(30 * time.Second)}
}

// Fetch downloads url. Any non-2xx answer or empty body is ErrExpired.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.rc.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpired, err)
	}
	if !resp.IsSuccess() || len(resp.Body()) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExpired, resp.Status())
	}
	if len(resp.Body()) > MaxImageBytes {
		return nil, fmt.Errorf("image too large: %d bytes", len(resp.Body()))
	}
	return resp.Body(), nil
}

func Base64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DataURL renders b as a data URI with the given mime type.
func DataURL(mime string, b []byte) string {
	return "data:" + mime + ";base64," + Base64(b)
}
