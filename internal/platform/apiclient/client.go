// Package apiclient talks to the remote prescription records API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/medtrack/internal/domain/adherence"
	"github.com/ehr/medtrack/internal/platform/auth"
	"github.com/ehr/medtrack/internal/platform/metrics"
)

// Upstream endpoints.
const (
	PathLogin           = "/api/auth/login"
	PathMyPrescriptions = "/api/prescriptions/my-prescriptions"
	PathStats           = "/api/prescriptions/stats"
	PathMarkTaken       = "/api/prescriptions/mark-taken"
	PathHistory         = "/api/prescriptions/history/"
	PathHealth          = "/api/health"
)

const maxBodyBytes = 4 << 20

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUnauthorizedHook registers fn to run whenever the API answers 401,
// typically to discard the stored session.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// Client is a thin JSON client for the records API. The bearer credential is
// read from the request context on every call.
type Client struct {
	baseURL        string
	http           *http.Client
	logger         zerolog.Logger
	onUnauthorized func()
	now            func() time.Time
}

// New returns a client for baseURL. A zero timeout keeps the HTTP client's
// default of 10 seconds.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func upstreamMessage(body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	return ""
}

// do sends a JSON request and returns the response body of a 2xx answer.
// Non-2xx statuses are mapped onto adherence error kinds.
func (c *Client) do(ctx context.Context, op, method, path string, in interface{}) ([]byte, int, error) {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return nil, 0, adherence.NewError(adherence.KindValidation, op, "encode request", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, adherence.NewError(adherence.KindNetwork, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := auth.BearerFromContext(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequestDuration.WithLabelValues(method, metricPath(path), "error").
			Observe(time.Since(start).Seconds())
		c.logger.Warn().Err(err).Str("method", method).Str("path", path).Msg("records API unreachable")
		return nil, 0, adherence.NewError(adherence.KindNetwork, op, "records API unreachable", err)
	}
	defer resp.Body.Close()

	metrics.UpstreamRequestDuration.WithLabelValues(method, metricPath(path), strconv.Itoa(resp.StatusCode)).
		Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, adherence.NewError(adherence.KindNetwork, op, "read response", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("records API call")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, resp.StatusCode, nil
	}
	return data, resp.StatusCode, c.statusError(op, resp.StatusCode, data)
}

func (c *Client) statusError(op string, status int, body []byte) error {
	msg := upstreamMessage(body)
	switch status {
	case http.StatusUnauthorized:
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		if msg == "" {
			msg = "session expired, please log in again"
		}
		return adherence.NewError(adherence.KindAuth, op, msg, nil)
	case http.StatusForbidden:
		if msg == "" {
			msg = "not allowed"
		}
		return adherence.NewError(adherence.KindAuth, op, msg, nil)
	case http.StatusNotFound:
		if msg == "" {
			msg = "not found"
		}
		return adherence.NewError(adherence.KindNotFound, op, msg, nil)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		if msg == "" {
			msg = "request rejected"
		}
		return adherence.NewError(adherence.KindValidation, op, msg, nil)
	default:
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", status)
		}
		return adherence.NewError(adherence.KindUpstream, op, msg, nil)
	}
}

// metricPath keeps the history DNI out of metric labels.
func metricPath(path string) string {
	if strings.HasPrefix(path, PathHistory) {
		return PathHistory + ":dni"
	}
	return path
}

// Health calls the API's health endpoint and returns its raw body.
func (c *Client) Health(ctx context.Context) (json.RawMessage, error) {
	data, _, err := c.do(ctx, "health", http.MethodGet, PathHealth, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, adherence.NewError(adherence.KindUpstream, "health", "malformed health payload", nil)
	}
	return json.RawMessage(data), nil
}

// Ping reports only whether the API answered. Any HTTP status counts as
// reachable, and no credential is sent.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathHealth, nil)
	if err != nil {
		return adherence.NewError(adherence.KindNetwork, "ping", "build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return adherence.NewError(adherence.KindNetwork, "ping", "records API unreachable", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return nil
}
