package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrTransport covers failures before a response was read.
	ErrTransport = errors.New("transport failure")
	// ErrUpstream covers non-2xx statuses, undecodable bodies and error payloads.
	ErrUpstream = errors.New("upstream error")
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

func New(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "?"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// SetAPIKey appends apikey=<key> to every request.
func (c *Client) SetAPIKey(key string) {
	c.apiKey = strings.TrimSpace(key)
}

// Get issues a GET with params as the query string and decodes a JSON object.
func (c *Client) Get(ctx context.Context, params url.Values) (map[string]any, error) {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" && params.Get("apikey") == "" {
		params.Set("apikey", c.apiKey)
	}
	target := c.baseURL
	if encoded := params.Encode(); encoded != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + encoded
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()
	c.log.Debug("upstream request",
		zap.String("function", firstNonEmpty(params.Get("function"), params.Get("action"))),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%w: http %d: %s", ErrUpstream, resp.StatusCode, string(body))
	}
	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: decode: %v: %w", ErrTransport, err, ctxErr)
		}
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	return data, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
