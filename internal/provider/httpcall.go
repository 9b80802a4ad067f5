package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// Options configures an HTTP provider client.
type Options struct {
	BaseURL string
	// Timeout bounds each call, including time spent waiting on the limiter.
	Timeout time.Duration
	// RateLimit is requests per second shared by all callers; zero disables pacing.
	RateLimit float64
	Burst     int
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// caller is the shared request path of the provider clients.
type caller struct {
	http    *http.Client
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

func newCaller(opts Options, logger *slog.Logger) caller {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return caller{http: hc, limiter: limiter, timeout: opts.Timeout, logger: logger}
}

// do sends the request built by build under the per-call timeout and returns
// the body of a 2xx response. Every failure is a *Error.
func (c caller) do(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error)) ([]byte, int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, &Error{Op: op, Message: "rate limiter", Retryable: true, Err: err}
	}

	req, err := build(ctx)
	if err != nil {
		return nil, 0, &Error{Op: op, Message: "build request", Err: err}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "op", op, "error", err, "duration", time.Since(start))
		return nil, 0, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, resp.StatusCode, transportError(op, fmt.Errorf("read body: %w", err))
	}
	c.logger.Debug("response", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, httpError(op, resp.StatusCode, truncate(strings.TrimSpace(string(body)), 256))
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
