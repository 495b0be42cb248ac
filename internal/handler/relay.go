package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"pdf-gateway-go/internal/metrics"
	"pdf-gateway-go/internal/model"
	"pdf-gateway-go/internal/service"
	"pdf-gateway-go/internal/upload"
)

// Client-facing messages. Engine diagnostics are logged, never returned.
const (
	msgUnreachable = "Could not connect to the document engine."
	msgRejected    = "Sorry, the document engine could not process the files."
	msgInternal    = "An unexpected error occurred on the server."
)

// RelayHandler accepts uploads, relays them to the document engine and streams
// the result back.
type RelayHandler struct {
	store   *upload.Store
	service *service.RelayService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayHandler creates a RelayHandler. The metrics parameter is optional.
func NewRelayHandler(store *upload.Store, svc *service.RelayService, logger *slog.Logger, m *metrics.Metrics) *RelayHandler {
	return &RelayHandler{
		store:   store,
		service: svc,
		logger:  logger.With("component", "relay_handler"),
		metrics: m,
	}
}

// Handle returns the echo handler for op.
//
// Staged files are released exactly once, after the engine response has been
// copied to the caller or the request has failed.
func (h *RelayHandler) Handle(op service.Operation) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := req.Context()

		batch, values, err := h.store.Receive(ctx, req, op.Files)
		if err != nil {
			h.record(op.Name, outcomeOf(err))
			return h.mapError(c, op, err)
		}

		outcome := model.OutcomeInternalError
		defer func() {
			batch.Release(outcome)
			h.record(op.Name, outcome)
		}()

		traceID := c.Response().Header().Get(echo.HeaderXRequestID)
		out, err := h.service.Prepare(op, batch.Files(), values, traceID)
		if err != nil {
			outcome = outcomeOf(err)
			return h.mapError(c, op, err)
		}

		resp, err := h.service.Forward(ctx, out)
		if err != nil {
			outcome = outcomeOf(err)
			return h.mapError(c, op, err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				h.logger.Warn("closing engine response", "operation", op.Name, "err", err)
			}
		}()

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, op.ContentType)
		res.Header().Set(echo.HeaderContentDisposition,
			mime.FormatMediaType("attachment", map[string]string{"filename": op.Filename}))
		res.WriteHeader(http.StatusOK)

		// The status line is already sent; a failed copy leaves the caller
		// with a truncated document.
		n, err := io.Copy(res, resp.Body)
		if h.metrics != nil {
			h.metrics.BytesRelayed.WithLabelValues(op.Name).Add(float64(n))
		}
		if err != nil {
			outcome = model.OutcomeTransportError
			if ctx.Err() != nil {
				outcome = model.OutcomeClientGone
			}
			h.logger.Error("streaming response body",
				"operation", op.Name,
				"outcome", outcome,
				"bytes", n,
				"err", err,
			)
			return nil
		}

		if err := http.NewResponseController(res).Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			h.logger.Warn("flushing response", "operation", op.Name, "err", err)
		}

		outcome = model.OutcomeSucceeded
		h.logger.Debug("relay complete", "operation", op.Name, "files", batch.Len(), "bytes", n)
		return nil
	}
}

func (h *RelayHandler) record(operation string, outcome model.Outcome) {
	if h.metrics != nil {
		h.metrics.RelayOutcomes.WithLabelValues(operation, string(outcome)).Inc()
	}
}

func (h *RelayHandler) mapError(c echo.Context, op service.Operation, err error) error {
	path := c.Request().URL.Path

	// Body limit and other framework errors keep their own status.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		h.logger.Warn("request rejected", "operation", op.Name, "path", path, "status", he.Code, "err", err)
		return he
	}

	var ve *upload.ValidationError
	if errors.As(err, &ve) {
		h.logger.Warn("invalid request", "operation", op.Name, "path", path, "err", err)
		return c.String(http.StatusBadRequest, "Bad request: "+ve.Error())
	}

	if errors.Is(err, context.Canceled) {
		h.logger.Warn("client disconnected", "operation", op.Name, "path", path)
		return c.String(http.StatusBadGateway, "client disconnected")
	}

	if errors.Is(err, service.ErrUpstreamUnreachable) {
		h.logger.Error("document engine unreachable", "operation", op.Name, "path", path, "err", err)
		return c.String(http.StatusBadGateway, msgUnreachable)
	}

	var rejected *service.UpstreamRejectedError
	if errors.As(err, &rejected) {
		// Already logged with the engine's excerpt.
		return c.String(http.StatusInternalServerError, msgRejected)
	}

	h.logger.Error("relay failed", "operation", op.Name, "path", path, "err", err)
	return c.String(http.StatusInternalServerError, msgInternal)
}

// outcomeOf classifies a failed relay for cleanup records and metrics.
func outcomeOf(err error) model.Outcome {
	var (
		he       *echo.HTTPError
		ve       *upload.ValidationError
		rejected *service.UpstreamRejectedError
	)
	switch {
	case errors.As(err, &he), errors.As(err, &ve):
		return model.OutcomeRejectedInput
	case errors.Is(err, context.Canceled):
		return model.OutcomeClientGone
	case errors.Is(err, service.ErrUpstreamUnreachable):
		return model.OutcomeTransportError
	case errors.As(err, &rejected):
		return model.OutcomeUpstreamError
	default:
		return model.OutcomeInternalError
	}
}
