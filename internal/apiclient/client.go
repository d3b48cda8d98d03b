// Package apiclient is a small HTTP executor with per-attempt timeouts,
// retry with exponential backoff and transport-level error classification.
// It has no knowledge of what it is talking to.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const maxResponseBytes = 1 << 20

// Config holds the client settings
type Config struct {
	BaseURL     string
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Backoff     Backoff
	BearerToken string
	UserAgent   string
}

// Attempt describes one finished HTTP attempt
type Attempt struct {
	Method     string
	Path       string
	Number     int
	StatusCode int
	Duration   time.Duration
	Err        error
	// Retrying is true when another attempt will follow
	Retrying bool
}

// AttemptObserver is called synchronously after every attempt
type AttemptObserver func(ctx context.Context, a Attempt)

// Response is a completed, non-error HTTP exchange
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithObserver registers an attempt observer
func WithObserver(o AttemptObserver) Option {
	return func(c *Client) {
		if o != nil {
			c.observers = append(c.observers, o)
		}
	}
}

// WithTimer replaces the timer used between retries, mainly for tests.
// newTimer is called once per Send.
func WithTimer(newTimer func() backoff.Timer) Option {
	return func(c *Client) { c.timer = newTimer }
}

// Client executes requests against a single base URL. Safe for concurrent use.
type Client struct {
	base      *url.URL
	cfg       Config
	http      *http.Client
	observers []AttemptObserver
	timer     func() backoff.Timer

	tokenMu sync.RWMutex
	token   string
}

// New validates cfg and returns a Client
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("per-attempt timeout must be positive")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max attempts must be at least 1, got %d", cfg.MaxAttempts)
	}

	c := &Client{
		base:  base,
		cfg:   cfg,
		http:  &http.Client{},
		token: cfg.BearerToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetToken sets the bearer token sent with every request. An empty token
// stops sending the Authorization header.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) bearer() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// PostJSON is Send with method POST
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	return c.Send(ctx, http.MethodPost, path, body, nil)
}

// Send performs the request, retrying transient failures. body is encoded
// as JSON unless it is nil, a []byte or an io.Reader. Any error returned is
// an *Error.
func (c *Client) Send(ctx context.Context, method, path string, body any, headers http.Header) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Method: method, Path: path, Err: err}
	}

	target := c.base.JoinPath(path).String()

	var (
		attempt int
		resp    *Response
		hint    time.Duration
		pending *Attempt
	)
	flush := func(retrying bool) {
		if pending != nil {
			pending.Retrying = retrying
			c.notify(ctx, *pending)
			pending = nil
		}
	}

	op := func() error {
		attempt++
		start := time.Now()
		r, err := c.do(ctx, method, target, payload, body != nil, headers)
		a := Attempt{Method: method, Path: path, Number: attempt, Duration: time.Since(start), Err: err}
		if r != nil {
			a.StatusCode = r.StatusCode
		}

		switch {
		case err != nil && ctx.Err() != nil:
			c.notify(ctx, a)
			return backoff.Permanent(&Error{Kind: KindCanceled, Method: method, Path: path, Attempts: attempt, Err: ctx.Err()})
		case err != nil:
			var invalid *invalidRequestError
			if errors.As(err, &invalid) {
				c.notify(ctx, a)
				return backoff.Permanent(&Error{Kind: KindInvalid, Method: method, Path: path, Attempts: attempt, Err: invalid.err})
			}
			pending = &a
			return err
		case isTransientStatus(r.StatusCode):
			se := &statusError{code: r.StatusCode, retryAfter: retryAfter(r.Header)}
			hint = se.retryAfter
			a.Err = se
			pending = &a
			return se
		case r.StatusCode >= 400:
			c.notify(ctx, a)
			return backoff.Permanent(&Error{
				Kind:       KindRejected,
				Method:     method,
				Path:       path,
				StatusCode: r.StatusCode,
				Body:       r.Body,
				Attempts:   attempt,
				Err:        errStatus(r.StatusCode),
			})
		default:
			c.notify(ctx, a)
			resp = r
			return nil
		}
	}

	notify := func(error, time.Duration) { flush(true) }

	var timer backoff.Timer
	if c.timer != nil {
		timer = c.timer()
	}

	err = backoff.RetryNotifyWithTimer(op, c.policy(ctx, &hint), notify, timer)
	flush(false)
	if err == nil {
		return resp, nil
	}

	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		return nil, apiErr
	case ctx.Err() != nil:
		return nil, &Error{Kind: KindCanceled, Method: method, Path: path, Attempts: attempt, Err: ctx.Err()}
	default:
		return nil, &Error{Kind: KindUnreachable, Method: method, Path: path, Attempts: attempt, Err: err}
	}
}

// policy bounds the configured backoff by the attempt budget and ctx
func (c *Client) policy(ctx context.Context, hint *time.Duration) backoff.BackOff {
	if c.cfg.MaxAttempts <= 1 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}
	b := &retryAfterBackOff{
		BackOff: c.cfg.Backoff.exponential(),
		hint:    hint,
		max:     c.cfg.Backoff.MaxDelay,
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
}

// do runs a single attempt bounded by the per-attempt timeout
func (c *Client) do(ctx context.Context, method, target string, payload []byte, hasBody bool, headers http.Header) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if hasBody {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return nil, &invalidRequestError{err: err}
	}

	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if hasBody && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) notify(ctx context.Context, a Attempt) {
	for _, o := range c.observers {
		o(ctx, a)
	}
}

// LoggingObserver logs every attempt at debug level and failures at warn
func LoggingObserver(logger *slog.Logger) AttemptObserver {
	return func(ctx context.Context, a Attempt) {
		attrs := []any{
			slog.String("method", a.Method),
			slog.String("path", a.Path),
			slog.Int("attempt", a.Number),
			slog.Int("status", a.StatusCode),
			slog.Duration("duration", a.Duration),
		}
		if a.Err == nil {
			logger.DebugContext(ctx, "api attempt completed", attrs...)
			return
		}
		attrs = append(attrs, slog.String("error", a.Err.Error()), slog.Bool("retrying", a.Retrying))
		logger.WarnContext(ctx, "api attempt failed", attrs...)
	}
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case io.Reader:
		return io.ReadAll(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		return data, nil
	}
}

func isTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return errStatus(e.code).Error()
}

type invalidRequestError struct {
	err error
}

func (e *invalidRequestError) Error() string {
	return e.err.Error()
}
