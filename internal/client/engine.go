// Package client provides the upstream HTTP client for the document engine.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"pdf-gateway-go/internal/config"
	"pdf-gateway-go/internal/metrics"
	"pdf-gateway-go/internal/model"
)

const userAgent = "pdf-gateway/1.0"

// EngineClient sends requests to the document engine.
type EngineClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	username   string
	password   string
}

// NewEngineClient creates an EngineClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewEngineClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *EngineClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &EngineClient{
		httpClient: &http.Client{
			Transport: transport,
			// Zero means no limit; caller disconnects still cancel through the context.
			Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:   logger.With("component", "engine_client"),
		metrics:  m,
		username: cfg.Upstream.Username,
		password: cfg.Upstream.Password,
	}
}

// Do executes an HTTP request against the engine and returns the raw response.
// operation labels the upstream metrics. The caller is responsible for closing
// the response body.
func (c *EngineClient) Do(operation string, req *http.Request) (*model.RelayResponse, error) {
	c.logger.Debug("upstream request",
		"operation", operation,
		"method", req.Method,
		"path", req.URL.Path,
	)

	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via RelayResponse
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(operation).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(operation).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.RelayResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a POST with a streamed body and returns the response.
// The caller is responsible for closing the returned body.
// ctx controls the lifetime of the upstream request: when it is canceled
// (e.g. the caller disconnects), the upstream request is also canceled.
func (c *EngineClient) DoStream(ctx context.Context, op *model.OutboundOperation, body io.Reader) (*model.RelayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, op.Method, op.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = op.Header.Clone()
	if req.Header == nil {
		req.Header = make(http.Header)
	}

	return c.Do(op.Name, req)
}
