// Package apiclient is the transport to the remote leaderboard API. It owns
// URL resolution, JSON encoding, the x-token header, request timeouts, the
// outgoing rate limit and request metrics. It does not interpret responses
// beyond classifying transport failures.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/okian/podium/internal/domain/apierr"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Header names used on the wire.
const (
	HeaderToken     = "x-token"
	HeaderRequestID = "x-request-id"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
	maxMessageLen  = 200
)

// Request describes one call. Endpoint is a short label for logs and metrics.
type Request struct {
	Method   string
	Path     string
	Endpoint string
	Token    string
	Body     any
}

// Response is a fully read HTTP response.
type Response struct {
	Status    int
	Body      []byte
	RequestID string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client sends requests relative to a base URL.
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying client. Its Timeout is kept.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds every request including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Client. baseURL must be absolute; paths are resolved against
// it as if it ended in a slash.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	c := &Client{
		base:    u,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("apiclient")
	}
	return c, nil
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Do sends req and reads the whole response. Any failure to obtain a
// response, timeouts included, is classified as apierr.ErrNetwork. Non-2xx
// responses are returned without error for the caller to classify.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	op := req.Method + " " + req.Path
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = req.Path
	}

	if !c.limiter.Allow() {
		metrics.RecordRateLimited()
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apierr.Wrap(op, apierr.ErrNetwork, err)
		}
	}

	target, err := c.base.Parse(strings.TrimPrefix(req.Path, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: resolve path: %w", op, err)
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderRequestID, requestID)
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set(HeaderToken, req.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.observe(ctx, req.Method, endpoint, "error", start, requestID)
		return nil, apierr.Wrap(op, apierr.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.observe(ctx, req.Method, endpoint, "error", start, requestID)
		return nil, apierr.Wrap(op, apierr.ErrNetwork, fmt.Errorf("read body: %w", err))
	}

	c.observe(ctx, req.Method, endpoint, strconv.Itoa(resp.StatusCode), start, requestID)
	return &Response{Status: resp.StatusCode, Body: data, RequestID: requestID}, nil
}

func (c *Client) observe(ctx context.Context, method, endpoint, status string, start time.Time, requestID string) {
	elapsed := time.Since(start)
	metrics.RecordAPIRequest(endpoint, method, status, float64(elapsed.Milliseconds()))
	c.logger.Debug(ctx, "api request",
		logger.String("method", method),
		logger.String("endpoint", endpoint),
		logger.String("status", status),
		logger.Duration("duration", elapsed),
		logger.String("request_id", requestID),
	)
}

type messageBody struct {
	Msg     string `json:"msg"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// ServerMessage extracts a human-readable message from an error body: the
// msg, message or error field of a JSON object, else the trimmed text.
func ServerMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	switch trimmed[0] {
	case '{':
		var m messageBody
		if err := json.Unmarshal(trimmed, &m); err == nil {
			for _, s := range []string{m.Msg, m.Message, m.Error} {
				if s = strings.TrimSpace(s); s != "" {
					return truncate(s)
				}
			}
			return ""
		}
	case '[':
		if json.Valid(trimmed) {
			return ""
		}
	}
	return truncate(string(trimmed))
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxMessageLen {
		return s
	}
	return string(r[:maxMessageLen]) + "..."
}
