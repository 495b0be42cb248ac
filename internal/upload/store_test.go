package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-gateway-go/internal/config"
	"pdf-gateway-go/internal/metrics"
	"pdf-gateway-go/internal/model"
)

type testPart struct {
	field    string
	filename string // empty for a scalar value
	content  string
}

func multipartRequest(t *testing.T, parts ...testPart) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.filename == "" {
			require.NoError(t, mw.WriteField(p.field, p.content))
			continue
		}
		w, err := mw.CreateFormFile(p.field, p.filename)
		require.NoError(t, err)
		_, err = io.WriteString(w, p.content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/merge", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newTestStore(t *testing.T) (*Store, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	cfg := &config.Config{Upload: config.UploadConfig{TempDir: filepath.Join(t.TempDir(), "uploads")}}
	s := NewStore(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), m)
	require.NoError(t, s.Prepare())
	return s, m
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestStore_Receive_StagesFilesInOrder(t *testing.T) {
	s, _ := newTestStore(t)
	req := multipartRequest(t,
		testPart{field: "files", filename: "a.pdf", content: "%PDF-a"},
		testPart{field: "files", filename: "b.pdf", content: "%PDF-bb"},
	)

	batch, values, err := s.Receive(context.Background(), req, Selector{Field: "files", Min: 1})
	require.NoError(t, err)
	assert.Empty(t, values)
	require.Equal(t, 2, batch.Len())

	files := batch.Files()
	assert.Equal(t, "a.pdf", files[0].OriginalName)
	assert.Equal(t, "b.pdf", files[1].OriginalName)
	assert.Equal(t, int64(6), files[0].Size)
	assert.Equal(t, int64(7), files[1].Size)
	assert.NotEqual(t, files[0].Path, files[1].Path)

	for i, want := range []string{"%PDF-a", "%PDF-bb"} {
		got, err := os.ReadFile(files[i].Path)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
		assert.Equal(t, s.Dir(), filepath.Dir(files[i].Path))
	}

	batch.Release(model.OutcomeSucceeded)
	assert.Empty(t, dirEntries(t, s.Dir()))
}

func TestStore_Receive_CollectsValuesAndIgnoresOtherFiles(t *testing.T) {
	s, _ := newTestStore(t)
	req := multipartRequest(t,
		testPart{field: "ranges", content: "1-2,4"},
		testPart{field: "attachment", filename: "x.txt", content: "ignored"},
		testPart{field: "pdffile", filename: "doc.pdf", content: "%PDF"},
	)

	batch, values, err := s.Receive(context.Background(), req, Selector{Field: "pdffile", Min: 1, Max: 1})
	require.NoError(t, err)
	defer batch.Release(model.OutcomeSucceeded)

	assert.Equal(t, "1-2,4", values.Get("ranges"))
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, "doc.pdf", batch.Files()[0].OriginalName)
	assert.Len(t, dirEntries(t, s.Dir()), 1)
}

func TestStore_Receive_MissingFile(t *testing.T) {
	s, _ := newTestStore(t)
	req := multipartRequest(t, testPart{field: "ranges", content: "1"})

	batch, _, err := s.Receive(context.Background(), req, Selector{Field: "pdffile", Min: 1, Max: 1})
	require.Error(t, err)
	assert.Nil(t, batch)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "pdffile", ve.Field)
	assert.Empty(t, dirEntries(t, s.Dir()))
}

func TestStore_Receive_EmptyFileInputIsNotAFile(t *testing.T) {
	s, _ := newTestStore(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	// Browsers send an unselected file input as a part with filename="".
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="htmlfile"; filename=""`}
	h["Content-Type"] = []string{"application/octet-stream"}
	_, err := mw.CreatePart(h)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/convert-html", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	_, _, err = s.Receive(context.Background(), req, Selector{Field: "htmlfile", Min: 1, Max: 1})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "no file uploaded", ve.Reason)
}

func TestStore_Receive_ValueUnderFileFieldIsIgnored(t *testing.T) {
	s, _ := newTestStore(t)
	req := multipartRequest(t,
		testPart{field: "files", content: "not a file"},
		testPart{field: "files", filename: "a.pdf", content: "%PDF"},
	)

	batch, values, err := s.Receive(context.Background(), req, Selector{Field: "files", Min: 1, Max: 4})
	require.NoError(t, err)
	defer batch.Release(model.OutcomeSucceeded)

	assert.Empty(t, values.Get("files"), "a value under the file field is not a form value")
	require.Equal(t, 1, batch.Len())
	assert.Equal(t, "a.pdf", batch.Files()[0].OriginalName)
	assert.Len(t, dirEntries(t, s.Dir()), 1)
}

func TestStore_Receive_OnlyValueUnderFileField(t *testing.T) {
	s, _ := newTestStore(t)
	req := multipartRequest(t, testPart{field: "pdffile", content: "doc.pdf"})

	_, _, err := s.Receive(context.Background(), req, Selector{Field: "pdffile", Min: 1, Max: 1})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "no file uploaded", ve.Reason)
	assert.Empty(t, dirEntries(t, s.Dir()))
}

func TestStore_Receive_TooManyFilesRemovesStaged(t *testing.T) {
	s, _ := newTestStore(t)
	req := multipartRequest(t,
		testPart{field: "pdffile", filename: "one.pdf", content: "1"},
		testPart{field: "pdffile", filename: "two.pdf", content: "2"},
	)

	_, _, err := s.Receive(context.Background(), req, Selector{Field: "pdffile", Min: 1, Max: 1})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Reason, "at most 1")
	assert.Empty(t, dirEntries(t, s.Dir()), "the first staged file must be removed")
}

func TestStore_Receive_NotMultipart(t *testing.T) {
	s, _ := newTestStore(t)
	req := httptest.NewRequest(http.MethodPost, "/merge", strings.NewReader(`{"files":[]}`))
	req.Header.Set("Content-Type", "application/json")

	_, _, err := s.Receive(context.Background(), req, Selector{Field: "files", Min: 1})
	assert.ErrorIs(t, err, ErrNotMultipart)
}

func TestStore_Receive_CanceledContext(t *testing.T) {
	s, _ := newTestStore(t)
	req := multipartRequest(t, testPart{field: "files", filename: "a.pdf", content: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Receive(ctx, req, Selector{Field: "files", Min: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dirEntries(t, s.Dir()))
}

func TestStore_Receive_WriteFailure(t *testing.T) {
	cfg := &config.Config{Upload: config.UploadConfig{TempDir: filepath.Join(t.TempDir(), "missing")}}
	s := NewStore(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	req := multipartRequest(t, testPart{field: "files", filename: "a.pdf", content: "x"})

	_, _, err := s.Receive(context.Background(), req, Selector{Field: "files", Min: 1})
	var ue *UploadError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "a.pdf", ue.FileName)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestStore_Receive_RecordsMetrics(t *testing.T) {
	s, m := newTestStore(t)
	req := multipartRequest(t,
		testPart{field: "files", filename: "a.pdf", content: "abc"},
		testPart{field: "files", filename: "b.pdf", content: "de"},
	)

	batch, _, err := s.Receive(context.Background(), req, Selector{Field: "files", Min: 1})
	require.NoError(t, err)
	batch.Release(model.OutcomeSucceeded)

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	got := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				got[f.GetName()] += c.GetValue()
			}
		}
	}
	assert.Equal(t, 2.0, got["pdf_gateway_files_staged_total"])
	assert.Equal(t, 5.0, got["pdf_gateway_bytes_staged_total"])
	assert.Equal(t, 2.0, got["pdf_gateway_files_removed_total"])
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a.pdf", "a.pdf"},
		{"dir/a.pdf", "a.pdf"},
		{"../../etc/passwd", "passwd"},
		{"/", fallbackName},
		{".", fallbackName},
		{"", fallbackName},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeName(tt.in))
		})
	}
}
