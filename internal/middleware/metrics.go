package middleware

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"pdf-gateway-go/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request: count, latency and, for requests that carry a
// body, the number of upload bytes the gateway actually read.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			req := c.Request()
			var body *countingBody
			if hasBody(req) {
				body = &countingBody{ReadCloser: req.Body}
				req.Body = body
			}

			err := next(c)

			status := strconv.Itoa(statusOf(c, err))
			method := metrics.NormalizeMethod(req.Method)
			path := metrics.NormalizePath(req.URL.Path)
			duration := time.Since(start).Seconds()

			m.RequestsTotal.WithLabelValues(method, status, path).Inc()
			m.RequestDuration.WithLabelValues(method, status, path).Observe(duration)
			if body != nil {
				m.RequestBodyBytes.WithLabelValues(path, status).Observe(float64(body.n))
			}

			return err
		}
	}
}

// statusOf returns the status the caller will see. A returned *echo.HTTPError
// is written later by the error handler, so its code is not on the response yet.
func statusOf(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && errors.As(err, &he) {
		return he.Code
	}
	return c.Response().Status
}

func hasBody(req *http.Request) bool {
	return req.Body != nil && req.Body != http.NoBody && req.ContentLength != 0
}

// countingBody counts bytes read from the request body. Bytes left unread,
// for example after a rejected upload, are not counted.
type countingBody struct {
	io.ReadCloser
	n int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.n += int64(n)
	return n, err
}
