// Package apiclient is the HTTP layer between the dashboard and the CRM
// backend. Every request passes through Transport, which owns bearer
// attachment and credential-rejection handling.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 2048

// Options configures a Client.
type Options struct {
	BaseURL           string
	AllowInsecureHTTP bool
	Session           Authorizer
	OnRejected        func()
	Recorder          Recorder
	Logger            zerolog.Logger
	// Timeout bounds each request. Zero leaves requests unbounded.
	Timeout time.Duration
	// Base is the innermost round tripper; http.DefaultTransport when nil.
	Base http.RoundTripper
}

// Client issues JSON requests against the backend.
type Client struct {
	base   string
	http   *http.Client
	logger zerolog.Logger
}

// New validates the base URL and assembles the transport chain:
// session Transport, then otelhttp, then Base.
func New(opts Options) (*Client, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		return nil, errors.New("apiclient: base url is required")
	}
	if err := ensureHTTPS(base, opts.AllowInsecureHTTP); err != nil {
		return nil, err
	}

	inner := opts.Base
	if inner == nil {
		inner = http.DefaultTransport
	}

	transport := &Transport{
		Base:       otelhttp.NewTransport(inner),
		Session:    opts.Session,
		OnRejected: opts.OnRejected,
		Recorder:   opts.Recorder,
		Logger:     opts.Logger,
	}

	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Transport: transport, Timeout: opts.Timeout},
		logger: opts.Logger,
	}, nil
}

// BaseURL returns the normalised backend URL.
func (c *Client) BaseURL() string {
	return c.base
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends in as a JSON body (when non-nil) and decodes a 2xx response into
// out (when non-nil). Non-2xx responses become *StatusError.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:  method,
			Path:    path,
			Code:    resp.StatusCode,
			Message: errorMessage(data),
		}
	}

	if out == nil {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return fmt.Errorf("drain response body: %w", err)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func errorMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(data))
}

func ensureHTTPS(raw string, allowInsecure bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse api url: %w", err)
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !allowInsecure {
			return fmt.Errorf("api url must use https: %s", raw)
		}
	case "":
		return fmt.Errorf("api url must include a scheme: %s", raw)
	default:
		return fmt.Errorf("unsupported api url scheme %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("api url missing host: %s", raw)
	}
	return nil
}
