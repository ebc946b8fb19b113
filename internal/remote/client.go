// Package remote talks to the storefront's commerce API over HTTP/JSON.
//
// Transport failures, 5xx responses and an open circuit breaker are all reported as
// domain.ErrNetworkUnavailable; 4xx responses are mapped to the matching domain error.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/log"
	"github.com/fjod/go_cart/storefront/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	// BreakerFailures consecutive network failures open the circuit for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// ErrorResponse is the error body returned by the commerce API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Error codes understood by the client.
const (
	CodeNotFound         = "not_found"
	CodeNotCancellable   = "order_not_cancellable"
	CodeNotAuthenticated = "unauthorized"
)

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		}
	}

	logger := log.WithComponent("remote")
	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "commerce-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// business rejections and caller cancellations say nothing about the API's health
			return err == nil || errors.Is(err, context.Canceled) || !errors.Is(err, domain.ErrNetworkUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		breaker: breaker,
		log:     logger,
	}
}

type request struct {
	op       string
	method   string
	path     string
	body     any
	headers  map[string]string
	notFound error
}

// do executes req through the breaker and decodes a successful response into out.
func (c *Client) do(ctx context.Context, req request, out any) error {
	start := time.Now()
	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, req)
	})
	metrics.RemoteRequestDuration.WithLabelValues(req.op).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %s: %v", domain.ErrNetworkUnavailable, req.op, err)
		}
		if errors.Is(err, domain.ErrNetworkUnavailable) {
			metrics.RemoteErrors.WithLabelValues(req.op).Inc()
		}
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.op, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req request) ([]byte, error) {
	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", req.op, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%s: %w", req.op, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNetworkUnavailable, req.op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%s: read body: %w", req.op, err)
		}
		return nil, fmt.Errorf("%w: %s: read body: %v", domain.ErrNetworkUnavailable, req.op, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, c.statusError(req, resp.StatusCode, data)
}

func (c *Client) statusError(req request, status int, data []byte) error {
	var apiErr ErrorResponse
	_ = json.Unmarshal(data, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status >= 500:
		return fmt.Errorf("%w: %s: status %d: %s", domain.ErrNetworkUnavailable, req.op, status, msg)
	case status == http.StatusUnauthorized || apiErr.Code == CodeNotAuthenticated:
		return fmt.Errorf("%s: %w", req.op, domain.ErrNotAuthenticated)
	case status == http.StatusNotFound && req.notFound != nil:
		return fmt.Errorf("%s: %w", req.op, req.notFound)
	case apiErr.Code == CodeNotCancellable:
		return fmt.Errorf("%s: %w: %s", req.op, domain.ErrOrderNotCancellable, msg)
	}
	return fmt.Errorf("%s: unexpected status %d: %s", req.op, status, msg)
}
