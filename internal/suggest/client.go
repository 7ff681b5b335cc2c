// Package suggest talks to the external column-mapping suggestion service.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNotConfigured is returned when no suggestion service is configured.
var ErrNotConfigured = errors.New("mapping suggestion service not configured")

// Request is what the service needs to propose a mapping.
type Request struct {
	Kind           string     `json:"kind"`
	Headers        []string   `json:"headers"`
	SampleRows     [][]string `json:"sampleRows"`
	ExpectedFields []string   `json:"expectedFields"`
}

// Suggester proposes a header → canonical field mapping.
type Suggester interface {
	Suggest(ctx context.Context, req Request) (map[string]string, error)
}

// Client is the HTTP Suggester.
type Client struct {
	baseURL string
	http    *resty.Client
}

var _ Suggester = (*Client)(nil)

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    resty.New().SetTimeout(timeout),
	}
}

func (c *Client) Suggest(ctx context.Context, req Request) (map[string]string, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var resp struct {
		Mapping map[string]string `json:"mapping"`
	}
	r, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&resp).
		Post(c.baseURL + "/v1/mapping-suggestions")
	if err != nil {
		return nil, fmt.Errorf("suggest mapping: %w", err)
	}
	if r.IsError() {
		return nil, fmt.Errorf("suggest mapping: %s; body: %s", r.Status(), truncate(r.String(), 256))
	}
	if resp.Mapping == nil {
		return map[string]string{}, nil
	}
	return resp.Mapping, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
