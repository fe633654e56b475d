package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bookbridge/storefront-adapter/internal/metrics"
	"github.com/bookbridge/storefront-adapter/internal/rate"
)

// Backoff returns the retry sleep duration for the given attempt number.
func Backoff(attempt int) time.Duration {
	switch attempt {
	case 0:
		return 100 * time.Millisecond
	case 1:
		return 250 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

type endpointKey struct{}

// WithEndpoint labels requests made with ctx for metrics, e.g. "cart.add".
func WithEndpoint(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, endpointKey{}, name)
}

func endpointOf(req *http.Request) string {
	if name, ok := req.Context().Value(endpointKey{}).(string); ok && name != "" {
		return name
	}
	return "other"
}

// Retryable reports whether a request with this method may be re-sent.
// Order creation and payment initiation are POSTs and are never repeated.
func Retryable(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// Response is a fully read backend response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Executor handles rate-limited HTTP execution with JSON decoding.
type Executor struct {
	logger       *zap.Logger
	rateMgr      *rate.Manager
	http         *http.Client
	retryMax     int
	tag          string
	errorHandler func(status int, body []byte) error
}

// New creates an Executor. errorHandler is called on 4xx responses, and on 5xx
// once retries are exhausted, to produce a backend-specific error. If nil, a
// default error is returned.
func New(
	logger *zap.Logger,
	rateMgr *rate.Manager,
	httpClient *http.Client,
	retryMax int,
	tag string,
	errorHandler func(status int, body []byte) error,
) *Executor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Executor{
		logger:       logger,
		rateMgr:      rateMgr,
		http:         httpClient,
		retryMax:     retryMax,
		tag:          tag,
		errorHandler: errorHandler,
	}
}

func (e *Executor) fail(status int, body []byte) error {
	if e.errorHandler != nil {
		return e.errorHandler(status, body)
	}
	return fmt.Errorf("%s returned %d", e.tag, status)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do executes req under the rate limiter for rateLimitKey and returns the body
// of a 2xx response. Idempotent methods are retried on transport errors and 5xx
// up to retryMax times; other methods get exactly one attempt.
func (e *Executor) Do(ctx context.Context, req *http.Request, rateLimitKey string) (*Response, error) {
	if e.rateMgr != nil {
		if err := e.rateMgr.Wait(ctx, rateLimitKey); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	attempts := 1
	if Retryable(req.Method) {
		attempts += e.retryMax
	}
	endpoint := endpointOf(req)

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, Backoff(attempt-1)); err != nil {
				return nil, err
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("rewind body: %w", err)
				}
				req.Body = body
			}
		}

		start := time.Now()
		resp, err := e.http.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			metrics.IncBackendRequest(endpoint, req.Method, "transport_error")
			e.logger.Warn(e.tag+".http_failed",
				zap.String("endpoint", endpoint),
				zap.String("url", req.URL.Redacted()),
				zap.Error(err),
				zap.Int("attempt", attempt))
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		elapsed := time.Since(start)
		metrics.ObserveDuration(metrics.BackendRequestDuration, start, endpoint, req.Method)
		metrics.IncBackendRequest(endpoint, req.Method, strconv.Itoa(resp.StatusCode))

		if readErr != nil {
			lastErr = fmt.Errorf("read body: %w", readErr)
			continue
		}

		if resp.StatusCode >= 500 {
			e.logger.Warn(e.tag+".server_error",
				zap.String("endpoint", endpoint),
				zap.Int("status", resp.StatusCode),
				zap.Duration("latency", elapsed),
				zap.Int("attempt", attempt))
			lastErr = e.fail(resp.StatusCode, body)
			continue
		}

		if resp.StatusCode >= 400 {
			e.logger.Debug(e.tag+".client_error",
				zap.String("endpoint", endpoint),
				zap.Int("status", resp.StatusCode))
			return nil, e.fail(resp.StatusCode, body)
		}

		e.logger.Debug(e.tag+".http_success",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", elapsed))

		return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	if attempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%s request failed after %d attempts: %w", e.tag, attempts, lastErr)
}

// DoJSON executes req via Do, then JSON-decodes a non-empty body into out.
func (e *Executor) DoJSON(ctx context.Context, req *http.Request, rateLimitKey string, out any) error {
	resp, err := e.Do(ctx, req, rateLimitKey)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		e.logger.Warn(e.tag+".decode_failed",
			zap.Error(err),
			zap.String("endpoint", endpointOf(req)),
			zap.Int("bytes", len(resp.Body)))
		return fmt.Errorf("decode failed: %w", err)
	}
	return nil
}
