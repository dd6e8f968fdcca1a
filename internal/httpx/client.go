// Package httpx is the JSON client used for every upstream: the estimator,
// the injection service and the exchange-rate feed.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	clierr "github.com/ggonzalez94/sendflow/internal/errors"
)

const maxRetryAfter = 5 * time.Second

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendflow_upstream_requests_total",
		Help: "Upstream HTTP attempts by upstream and outcome.",
	}, []string{"upstream", "outcome"})
	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sendflow_upstream_request_duration_seconds",
		Help:    "Latency of upstream HTTP attempts.",
		Buckets: prometheus.DefBuckets,
	}, []string{"upstream"})
)

// Client is a JSON HTTP client that retries transient failures with jittered
// backoff. Named copies share the transport and differ only in metric labels.
type Client struct {
	httpClient *http.Client
	retries    int
	userAgent  string
	upstream   string
	base       *zap.Logger
	logger     *zap.Logger
}

func New(timeout time.Duration, retries int) *Client {
	if retries < 0 {
		retries = 0
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		retries:    retries,
		userAgent:  "sendflow/1.0",
		upstream:   "default",
		base:       zap.NewNop(),
		logger:     zap.NewNop(),
	}
}

// Named returns a copy that reports metrics and retry logs under upstream.
func (c *Client) Named(upstream string) *Client {
	cp := *c
	cp.upstream = upstream
	cp.logger = c.base.With(zap.String("upstream", upstream))
	return &cp
}

func (c *Client) WithLogger(logger *zap.Logger) *Client {
	cp := *c
	if logger == nil {
		logger = zap.NewNop()
	}
	cp.base = logger
	cp.logger = logger.With(zap.String("upstream", c.upstream))
	return &cp
}

// NoRetry returns a copy that makes exactly one attempt. Use it for
// non-idempotent calls where a lost response must not cause a resend.
func (c *Client) NoRetry() *Client {
	cp := *c
	cp.retries = 0
	return &cp
}

// UserAgent overrides the default User-Agent header.
func (c *Client) UserAgent(ua string) *Client {
	cp := *c
	if ua != "" {
		cp.userAgent = ua
	}
	return &cp
}

// retryable carries the server's Retry-After hint to the next attempt.
type retryable struct {
	err   error
	after time.Duration
}

func (c *Client) DoJSON(ctx context.Context, req *http.Request, out any) (http.Header, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var last retryable
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			if last.after > wait {
				wait = last.after
			}
			c.logger.Debug("retrying upstream request", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(last.err))
			select {
			case <-ctx.Done():
				return nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
			case <-time.After(wait):
			}
		}

		header, retry, err := c.attempt(ctx, req, out)
		if retry == nil {
			return header, err
		}
		last = *retry
	}
	c.logger.Warn("upstream request failed", zap.Int("attempts", c.retries+1), zap.Error(last.err))
	if last.err != nil {
		return nil, last.err
	}
	return nil, clierr.New(clierr.CodeUnavailable, "request failed")
}

// attempt performs one round trip. A non-nil retryable means the failure is transient.
func (c *Client) attempt(ctx context.Context, req *http.Request, out any) (http.Header, *retryable, error) {
	cloneReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, nil, clierr.Wrap(clierr.CodeInternal, "clone request body", err)
		}
		cloneReq.Body = body
	}

	start := time.Now()
	resp, err := c.httpClient.Do(cloneReq)
	upstreamDuration.WithLabelValues(c.upstream).Observe(time.Since(start).Seconds())
	if err != nil {
		c.count("network_error")
		if ctx.Err() != nil {
			return nil, nil, clierr.Wrap(clierr.CodeUnavailable, "request cancelled", ctx.Err())
		}
		return nil, &retryable{err: mapNetError(err)}, nil
	}

	buf, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		c.count("read_error")
		return resp.Header, nil, clierr.Wrap(clierr.CodeUnavailable, "read upstream response", readErr)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.count("rate_limited")
		return resp.Header, &retryable{
			err:   clierr.New(clierr.CodeUnavailable, "upstream rate limited request"),
			after: retryAfter(resp.Header),
		}, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.count("unauthorized")
		return resp.Header, nil, clierr.New(clierr.CodeUnavailable, "upstream authentication failed")
	case resp.StatusCode >= http.StatusInternalServerError:
		c.count("server_error")
		return resp.Header, &retryable{
			err:   clierr.New(clierr.CodeUnavailable, fmt.Sprintf("upstream unavailable (status %d)", resp.StatusCode)),
			after: retryAfter(resp.Header),
		}, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.count("client_error")
		msg := fmt.Sprintf("upstream returned unexpected status %d", resp.StatusCode)
		if detail := errorDetail(buf); detail != "" {
			msg += ": " + detail
		}
		return resp.Header, nil, clierr.New(clierr.CodeUnsupported, msg)
	}

	c.count("ok")
	if out == nil {
		return resp.Header, nil, nil
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return resp.Header, nil, clierr.New(clierr.CodeUnavailable, "upstream returned empty response")
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return resp.Header, nil, clierr.Wrap(clierr.CodeUnavailable, "decode upstream JSON", err)
	}
	return resp.Header, nil, nil
}

func (c *Client) count(outcome string) {
	upstreamRequests.WithLabelValues(c.upstream, outcome).Inc()
}

func DoBodyJSON(ctx context.Context, c *Client, method, url string, body []byte, headers map[string]string, out any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.DoJSON(ctx, req, out)
}

// errorDetail pulls a short message out of an upstream error body.
func errorDetail(buf []byte) string {
	var body struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if json.Unmarshal(buf, &body) != nil {
		return ""
	}
	for _, s := range []string{body.Message, body.Msg} {
		if strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if s, ok := body.Error.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// retryAfter reads a delay-seconds Retry-After header, capped at maxRetryAfter.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func mapNetError(err error) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return clierr.Wrap(clierr.CodeUnavailable, "upstream timeout", err)
	}
	return clierr.Wrap(clierr.CodeUnavailable, "upstream request failed", err)
}

func backoff(attempt int) time.Duration {
	base := 120 * time.Millisecond
	d := base * time.Duration(1<<uint(attempt-1))
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	jitter := time.Duration(rand.Intn(75)) * time.Millisecond
	return d + jitter
}
