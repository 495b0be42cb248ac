// Package upload stages inbound multipart file parts to temporary storage and
// removes them once the request that owns them is done.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"pdf-gateway-go/internal/config"
	"pdf-gateway-go/internal/metrics"
	"pdf-gateway-go/internal/model"
)

// maxValueBytes bounds each non-file form value read from the request.
const maxValueBytes = 64 << 10

// fallbackName is used when a part carries an empty filename.
const fallbackName = "upload"

// Selector picks the file parts to stage from an inbound form.
type Selector struct {
	Field string
	Min   int
	Max   int // 0 means no upper bound
}

// Store writes uploaded parts under a single temp directory.
type Store struct {
	dir     string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewStore creates a Store rooted at cfg.Upload.TempDir.
// The metrics parameter is optional; pass nil to disable recording.
func NewStore(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Store {
	return &Store{
		dir:     cfg.Upload.TempDir,
		logger:  logger.With("component", "upload_store"),
		metrics: m,
	}
}

// Dir returns the directory staged files are written to.
func (s *Store) Dir() string {
	return s.dir
}

// Prepare creates the temp directory if needed.
func (s *Store) Prepare() error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create upload dir %s: %w", s.dir, err)
	}
	return nil
}

// Receive streams the multipart body of r, staging every file part named
// sel.Field and collecting scalar fields. File parts under other names are
// discarded. On error nothing staged by this call remains on disk.
//
// The caller owns the returned Batch and must Release it.
func (s *Store) Receive(ctx context.Context, r *http.Request, sel Selector) (*Batch, url.Values, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, &ValidationError{Reason: ErrNotMultipart.Error(), Err: ErrNotMultipart}
	}

	batch := newBatch(s.logger, s.metrics)
	values := make(url.Values)

	fail := func(err error) (*Batch, url.Values, error) {
		batch.Release(stagingOutcome(err))
		return nil, nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(&ValidationError{Reason: "malformed multipart body", Err: err})
		}

		name := part.FormName()
		switch {
		case name == sel.Field && part.FileName() != "":
			if sel.Max > 0 && batch.Len() >= sel.Max {
				_ = part.Close()
				return fail(&ValidationError{
					Field:  sel.Field,
					Reason: fmt.Sprintf("at most %d file(s) allowed", sel.Max),
				})
			}
			f, err := s.stage(ctx, part)
			_ = part.Close()
			if err != nil {
				return fail(err)
			}
			batch.add(f)
			if s.metrics != nil {
				s.metrics.FilesStaged.WithLabelValues(sel.Field).Inc()
				s.metrics.BytesStaged.WithLabelValues(sel.Field).Add(float64(f.Size))
			}

		case part.FileName() == "" && name != sel.Field:
			v, err := readValue(part)
			_ = part.Close()
			if err != nil {
				return fail(&ValidationError{Field: name, Reason: "unreadable value", Err: err})
			}
			values.Add(name, v)

		case name == sel.Field:
			// An unselected file input, or a plain value posted under the file field.
			s.logger.Debug("ignoring part without filename", "field", name)
			_ = part.Close()

		default:
			s.logger.Debug("ignoring file part", "field", name, "filename", part.FileName())
			_ = part.Close()
		}
	}

	if batch.Len() < sel.Min {
		if batch.Len() == 0 {
			return fail(&ValidationError{Field: sel.Field, Reason: "no file uploaded"})
		}
		return fail(&ValidationError{
			Field:  sel.Field,
			Reason: fmt.Sprintf("at least %d file(s) required", sel.Min),
		})
	}

	s.logger.Debug("staged upload", "field", sel.Field, "files", batch.Len())
	return batch, values, nil
}

// stage copies one file part to a fresh uuid-named file.
func (s *Store) stage(ctx context.Context, part *multipart.Part) (model.UploadedFile, error) {
	original := sanitizeName(part.FileName())
	path := filepath.Join(s.dir, uuid.NewString())

	fail := func(err error) (model.UploadedFile, error) {
		return model.UploadedFile{}, &UploadError{Field: part.FormName(), FileName: original, Err: err}
	}

	// O_EXCL: a staged path is never shared with another request.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fail(err)
	}

	n, copyErr := io.Copy(f, &ctxReader{ctx: ctx, r: part})
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("failed to remove partial upload", "path", path, "err", rmErr)
		}
		if copyErr != nil && ctx.Err() != nil {
			return model.UploadedFile{}, ctx.Err()
		}
		return fail(err)
	}

	return model.UploadedFile{Path: path, OriginalName: original, Size: n}, nil
}

// sanitizeName keeps only the final path element of a client-supplied filename.
func sanitizeName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) {
		return fallbackName
	}
	return base
}

// stagingOutcome classifies a Receive failure for the cleanup record.
func stagingOutcome(err error) model.Outcome {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return model.OutcomeRejectedInput
	case errors.Is(err, context.Canceled):
		return model.OutcomeClientGone
	default:
		return model.OutcomeInternalError
	}
}

func readValue(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxValueBytes+1))
	if err != nil {
		return "", fmt.Errorf("read value: %w", err)
	}
	if len(data) > maxValueBytes {
		return "", fmt.Errorf("value exceeds %d bytes", maxValueBytes)
	}
	return string(data), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
