package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// apiTransport is the HTTP layer behind the API-mode providers: one pooled
// client plus a bounded retry loop for transient upstream failures. Each
// provider owns its own transport so a misbehaving upstream cannot starve
// the others' connection pools.
type apiTransport struct {
	client   *http.Client
	attempts int           // total tries, including the first
	baseWait time.Duration // first backoff interval, doubles per retry
	logger   *slog.Logger
}

func newTransport(timeout time.Duration, logger *slog.Logger) *apiTransport {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &apiTransport{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     2 * time.Minute,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		attempts: 4,
		baseWait: 400 * time.Millisecond,
		logger:   logger,
	}
}

// upstreamError carries a retryable HTTP status with a short body excerpt.
type upstreamError struct {
	status int
	detail string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.status, e.detail)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// once performs a single attempt with no retry. Health probes use it so a
// down upstream is reported immediately instead of after the retry budget.
func (t *apiTransport) once(req *http.Request) (*http.Response, error) {
	return t.client.Do(req)
}

// do runs the request with retries on connection errors, 429 and 5xx.
// buildReq is invoked per attempt so the body reader is fresh each time.
// The caller owns resp.Body on success.
func (t *apiTransport) do(ctx context.Context, buildReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	wait := t.baseWait

	for attempt := 1; attempt <= t.attempts; attempt++ {
		if attempt > 1 {
			// Doubling backoff with jitter so concurrent callers spread out.
			sleep := wait + rand.N(wait/2+1)
			wait *= 2
			t.logger.Warn("retrying upstream request",
				"attempt", attempt, "wait", sleep, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if retryableStatus(resp.StatusCode) {
			lastErr = &upstreamError{status: resp.StatusCode, detail: bodyExcerpt(resp.Body)}
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", t.attempts, lastErr)
}

// bodyExcerpt reads at most 512 bytes of an error body for the log line.
func bodyExcerpt(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
