package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/blaue-tonne-service/internal/circuitbreaker"
	"github.com/kjstillabower/blaue-tonne-service/internal/observability"
)

// PlanClient downloads schedule PDFs.
type PlanClient interface {
	FetchPDF(ctx context.Context, planURL string) ([]byte, error)
}

var (
	ErrNotPDFURL       = errors.New("URL must point to a PDF file")
	ErrNotPDFContent   = errors.New("URL does not point to a valid PDF file")
	ErrPlanNotFound    = errors.New("plan not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
	ErrTooLarge        = errors.New("plan exceeds size limit")
)

const (
	pdfMediaType = "application/pdf"
	userAgent    = "blaue-tonne-service/1.0"

	// DefaultMaxBytes caps a single plan download.
	DefaultMaxBytes = 32 << 20
)

// Options configures an HTTPPlanClient. Zero values fall back to defaults.
type Options struct {
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	MaxBytes       int64
}

// HTTPPlanClient fetches plan PDFs over HTTP(S), following redirects.
type HTTPPlanClient struct {
	client         *http.Client
	timeout        time.Duration
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	maxBytes       int64
	breaker        *circuitbreaker.CircuitBreaker
}

// NewHTTPPlanClient returns a retry-free client with the given per-attempt timeout.
func NewHTTPPlanClient(timeout time.Duration) *HTTPPlanClient {
	return NewHTTPPlanClientWithOptions(Options{Timeout: timeout, RetryAttempts: 1})
}

// NewHTTPPlanClientWithOptions returns a client using opts.
func NewHTTPPlanClientWithOptions(opts Options) *HTTPPlanClient {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 200 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &HTTPPlanClient{
		client:         &http.Client{Timeout: opts.Timeout},
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		maxBytes:       opts.MaxBytes,
	}
}

// SetCircuitBreaker wraps every download attempt with cb. Nil disables it.
func (c *HTTPPlanClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// ValidatePlanURL checks that planURL is an absolute http(s) URL whose path ends in .pdf.
func ValidatePlanURL(planURL string) error {
	u, err := url.Parse(planURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotPDFURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrNotPDFURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrNotPDFURL)
	}
	if !strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return ErrNotPDFURL
	}
	return nil
}

// FetchPDF downloads the plan at planURL. It returns ErrNotPDFURL before any request when
// the URL does not name a PDF, ErrPlanNotFound on 404 and ErrNotPDFContent when the server
// answers with something other than application/pdf. Every failure is counted by CategorizeError.
func (c *HTTPPlanClient) FetchPDF(ctx context.Context, planURL string) ([]byte, error) {
	data, err := c.fetch(ctx, planURL)
	if err != nil {
		observability.PlanFetchErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return nil, err
	}
	return data, nil
}

func (c *HTTPPlanClient) fetch(ctx context.Context, planURL string) ([]byte, error) {
	if err := ValidatePlanURL(planURL); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.PlanFetchRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.attempt(ctx, planURL)
		if err == nil {
			return data, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return nil, err
		}
	}

	if c.retryAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *HTTPPlanClient) attempt(ctx context.Context, planURL string) ([]byte, error) {
	if c.breaker == nil {
		return c.download(ctx, planURL)
	}
	var data []byte
	err := c.breaker.Call(ctx, func() error {
		var err error
		data, err = c.download(ctx, planURL)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}
	return data, err
}

func (c *HTTPPlanClient) download(ctx context.Context, planURL string) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, planURL)
	if err != nil {
		observability.PlanFetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.PlanFetchTotal.WithLabelValues("error").Inc()
		observability.PlanFetchDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("request timeout: %w", err)
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.PlanFetchTotal.WithLabelValues(status).Inc()

	if err := c.handleErrorResponse(resp); err != nil {
		observability.PlanFetchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		return nil, err
	}
	if !isPDFContentType(resp.Header.Get("Content-Type")) {
		observability.PlanFetchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		return nil, ErrNotPDFContent
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	observability.PlanFetchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > c.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, c.maxBytes)
	}
	observability.PlanFetchBytes.Observe(float64(len(body)))
	return body, nil
}

func (c *HTTPPlanClient) buildRequest(ctx context.Context, planURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, planURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", pdfMediaType)
	req.Header.Set("User-Agent", userAgent)
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *HTTPPlanClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: HTTP %d", ErrPlanNotFound, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func (c *HTTPPlanClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	return strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "http request failed")
}

func (c *HTTPPlanClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

// isPDFContentType reports whether the media type of a Content-Type header is application/pdf.
func isPDFContentType(header string) bool {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, pdfMediaType)
}

// IsBreakerFailure reports whether err should count against the circuit breaker.
// Missing plans and misconfigured URLs say nothing about host health.
func IsBreakerFailure(err error) bool {
	return !errors.Is(err, ErrPlanNotFound) && !errors.Is(err, ErrNotPDFContent) &&
		!errors.Is(err, ErrNotPDFURL) && !errors.Is(err, context.Canceled)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusNotFound:
		return "not_found"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}
