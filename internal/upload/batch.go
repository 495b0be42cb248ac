package upload

import (
	"errors"
	"log/slog"
	"os"
	"sync"

	"pdf-gateway-go/internal/metrics"
	"pdf-gateway-go/internal/model"
)

// Batch is the set of files staged for one request. Release deletes them
// exactly once, however many times it is called.
type Batch struct {
	files   []model.UploadedFile
	logger  *slog.Logger
	metrics *metrics.Metrics

	once    sync.Once
	outcome model.Outcome
}

func newBatch(logger *slog.Logger, m *metrics.Metrics) *Batch {
	return &Batch{logger: logger, metrics: m}
}

func (b *Batch) add(f model.UploadedFile) {
	b.files = append(b.files, f)
}

// Files returns the staged files in upload order.
func (b *Batch) Files() []model.UploadedFile {
	return b.files
}

// Len returns the number of staged files.
func (b *Batch) Len() int {
	return len(b.files)
}

// Outcome returns the outcome recorded by the first Release, or "" if the
// batch has not been released.
func (b *Batch) Outcome() model.Outcome {
	return b.outcome
}

// Release removes every staged file. Only the first call has any effect;
// removal failures are logged and counted, never returned.
func (b *Batch) Release(outcome model.Outcome) {
	b.once.Do(func() {
		b.outcome = outcome
		for _, f := range b.files {
			err := os.Remove(f.Path)
			switch {
			case err == nil:
				if b.metrics != nil {
					b.metrics.FilesRemoved.Inc()
				}
			case errors.Is(err, os.ErrNotExist):
				b.logger.Debug("staged file already gone", "path", f.Path)
			default:
				b.logger.Warn("failed to remove staged file", "path", f.Path, "err", err)
				if b.metrics != nil {
					b.metrics.CleanupFailures.Inc()
				}
			}
		}
		b.logger.Debug("released upload batch", "files", len(b.files), "outcome", string(outcome))
	})
}
