package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-gateway-go/internal/client"
	"pdf-gateway-go/internal/config"
	"pdf-gateway-go/internal/model"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:           baseURL,
			TimeoutSeconds:    10,
			IdleConnections:   10,
			ErrorBodyMaxBytes: 16,
		},
		Upload:  config.UploadConfig{MaxFiles: 4},
		Convert: config.ConvertConfig{PaperWidth: 8.5, PaperHeight: 11},
		Split:   config.SplitConfig{Mode: "pages"},
	}
}

func newTestService(t *testing.T, baseURL string) *RelayService {
	t.Helper()
	cfg := testConfig(baseURL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewRelayService(client.NewEngineClient(cfg, logger, nil), cfg, logger)
	require.NoError(t, err)
	return svc
}

func stagedFile(t *testing.T, original, content string) model.UploadedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staged")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return model.UploadedFile{Path: path, OriginalName: original, Size: int64(len(content))}
}

func operation(t *testing.T, name string) Operation {
	t.Helper()
	for _, op := range NewOperations(testConfig("https://engine.internal")) {
		if op.Name == name {
			return op
		}
	}
	t.Fatalf("no operation %q", name)
	return Operation{}
}

func TestForward_StreamsFormAndResponse(t *testing.T) {
	var gotNames []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/pdfengines/merge", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get("Gotenberg-Trace"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		for _, fh := range r.MultipartForm.File["files"] {
			gotNames = append(gotNames, fh.Filename)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-merged"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)
	files := []model.UploadedFile{stagedFile(t, "a.pdf", "A"), stagedFile(t, "b.pdf", "B")}

	out, err := svc.Prepare(operation(t, "merge"), files, url.Values{}, "req-1")
	require.NoError(t, err)
	resp, err := svc.Forward(context.Background(), out)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.NoError(t, resp.Body.Close(), "second close is a no-op")

	assert.Equal(t, "%PDF-merged", string(body))
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, gotNames)
}

func TestForward_RejectedReturnsBoundedExcerpt(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)
	f := stagedFile(t, "doc.pdf", "%PDF")
	out, err := svc.Prepare(operation(t, "split"), []model.UploadedFile{f}, url.Values{"ranges": {"9-z"}}, "")
	require.NoError(t, err)

	resp, err := svc.Forward(context.Background(), out)
	assert.Nil(t, resp)

	var rejected *UpstreamRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusUnprocessableEntity, rejected.StatusCode)
	assert.Equal(t, "split", rejected.Operation)
	assert.Len(t, rejected.Excerpt, 16)
	assert.False(t, errors.Is(err, ErrUpstreamUnreachable))
}

func TestForward_Unreachable(t *testing.T) {
	svc := newTestService(t, "http://127.0.0.1:1")
	f := stagedFile(t, "a.pdf", "A")
	out, err := svc.Prepare(operation(t, "merge"), []model.UploadedFile{f}, nil, "")
	require.NoError(t, err)

	_, err = svc.Forward(context.Background(), out)
	assert.ErrorIs(t, err, ErrUpstreamUnreachable)
}

func TestForward_MissingStagedFileIsNotUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)
	f := model.UploadedFile{Path: filepath.Join(t.TempDir(), "gone"), OriginalName: "a.pdf"}
	out, err := svc.Prepare(operation(t, "merge"), []model.UploadedFile{f}, nil, "")
	require.NoError(t, err)

	_, err = svc.Forward(context.Background(), out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUpstreamUnreachable))
}

func TestForward_CanceledContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)
	f := stagedFile(t, "a.pdf", "A")
	out, err := svc.Prepare(operation(t, "merge"), []model.UploadedFile{f}, nil, "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = svc.Forward(ctx, out)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPrepare_EndpointURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		op   string
		want string
	}{
		{"merge", "https://engine.internal", "merge", "https://engine.internal/forms/pdfengines/merge"},
		{"convert", "https://engine.internal/", "convert-html", "https://engine.internal/forms/chromium/convert/html"},
		{"split under prefix", "https://engine.internal/gotenberg?x=1", "split", "https://engine.internal/gotenberg/forms/pdfengines/split"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.base)
			f := stagedFile(t, "in.html", "x")
			out, err := svc.Prepare(operation(t, tt.op), []model.UploadedFile{f}, url.Values{"ranges": {"1"}}, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.URL)
			assert.Equal(t, http.MethodPost, out.Method)
			assert.Empty(t, out.Header.Get("Gotenberg-Trace"))
		})
	}
}
