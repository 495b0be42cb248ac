// Package service implements the relay between inbound uploads and the
// document engine.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"pdf-gateway-go/internal/client"
	"pdf-gateway-go/internal/config"
	"pdf-gateway-go/internal/form"
	"pdf-gateway-go/internal/model"
)

// traceHeader correlates gateway and engine logs.
const traceHeader = "Gotenberg-Trace"

// errRelayDone closes the payload pipe once the engine response is settled.
var errRelayDone = errors.New("relay finished")

// RelayService builds outbound operations and sends them to the engine.
type RelayService struct {
	client  *client.EngineClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
}

// NewRelayService creates a RelayService.
func NewRelayService(c *client.EngineClient, cfg *config.Config, logger *slog.Logger) (*RelayService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &RelayService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "relay_service"),
		baseURL: u,
	}, nil
}

// Prepare turns staged files and inbound form values into the outbound
// operation for op. traceID, when set, is forwarded to the engine.
func (s *RelayService) Prepare(op Operation, files []model.UploadedFile, values url.Values, traceID string) (*model.OutboundOperation, error) {
	fields, err := op.Fields(files, values)
	if err != nil {
		return nil, err
	}

	header := make(http.Header)
	header.Set("Accept", op.ContentType)
	if traceID != "" {
		header.Set(traceHeader, traceID)
	}

	return &model.OutboundOperation{
		Name:   op.Name,
		URL:    s.endpointURL(op.UpstreamPath),
		Method: http.MethodPost,
		Fields: fields,
		Header: header,
	}, nil
}

func (s *RelayService) endpointURL(path string) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = ""
	return u.String()
}

// Forward streams op's form to the engine and returns the engine's response.
// Only 2xx responses are returned; anything else is an *UpstreamRejectedError.
// Transport failures wrap ErrUpstreamUnreachable.
//
// The caller must close the response body. Closing it also waits for the
// form writer, so staged files are no longer open once Close returns.
func (s *RelayService) Forward(ctx context.Context, op *model.OutboundOperation) (*model.RelayResponse, error) {
	payload := form.NewPayload(op.Fields)

	out := *op
	out.Header = op.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Header.Set("Content-Type", payload.ContentType())

	pr, pw := io.Pipe()
	var g errgroup.Group
	g.Go(func() error {
		_, err := payload.WriteTo(pw)
		_ = pw.CloseWithError(err)
		return err
	})

	settle := func() error {
		_ = pr.CloseWithError(errRelayDone)
		return payloadError(g.Wait())
	}

	s.logger.Debug("forwarding request", "operation", op.Name, "fields", len(op.Fields))

	resp, err := s.client.DoStream(ctx, &out, pr)
	if err != nil {
		if werr := settle(); werr != nil {
			return nil, fmt.Errorf("write %s payload: %w", op.Name, werr)
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, s.cfg.Upstream.ErrorBodyMaxBytes))
		_ = resp.Body.Close()
		_ = settle()

		s.logger.Error("document engine rejected request",
			"operation", op.Name,
			"status", resp.StatusCode,
			"body", string(excerpt),
		)
		return nil, &UpstreamRejectedError{
			Operation:  op.Name,
			StatusCode: resp.StatusCode,
			Excerpt:    string(excerpt),
		}
	}

	resp.Body = &relayBody{ReadCloser: resp.Body, settle: settle}
	return resp, nil
}

// payloadError drops the errors the writer sees only because the pipe was
// closed from the reading side.
func payloadError(err error) error {
	if err == nil || errors.Is(err, errRelayDone) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// relayBody is the engine response body; Close also settles the form writer.
type relayBody struct {
	io.ReadCloser
	settle func() error

	once sync.Once
	err  error
}

func (b *relayBody) Close() error {
	b.once.Do(func() {
		b.err = errors.Join(b.ReadCloser.Close(), b.settle())
	})
	return b.err
}
