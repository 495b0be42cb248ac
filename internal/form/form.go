// Package form builds the multipart bodies sent to the document engine.
package form

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pdf-gateway-go/internal/model"
)

// Engine field names.
const (
	FieldFiles       = "files"
	FieldPaperWidth  = "paperWidth"
	FieldPaperHeight = "paperHeight"
	FieldSplitMode   = "splitMode"
	FieldSplitSpan   = "splitSpan"
	FieldIntervals   = "intervals"
)

// IndexHTML is the name the HTML renderer requires for the main document.
const IndexHTML = "index.html"

// Merge places every file under "files" with its original name, in order.
// The engine picks a handler by extension, so names are sent verbatim.
func Merge(files []model.UploadedFile) []model.FormField {
	fields := make([]model.FormField, 0, len(files))
	for i := range files {
		fields = append(fields, fileField(&files[i], files[i].OriginalName))
	}
	return fields
}

// ConvertHTML sends file as index.html with the page size in inches.
func ConvertHTML(file *model.UploadedFile, width, height float64) []model.FormField {
	return []model.FormField{
		fileField(file, IndexHTML),
		{Name: FieldPaperWidth, Value: formatInches(width)},
		{Name: FieldPaperHeight, Value: formatInches(height)},
	}
}

// Split sends file under its original name with the caller's range
// expression passed through untouched.
func Split(file *model.UploadedFile, ranges, mode string) []model.FormField {
	return []model.FormField{
		fileField(file, file.OriginalName),
		{Name: FieldSplitMode, Value: mode},
		{Name: FieldSplitSpan, Value: ranges},
		{Name: FieldIntervals, Value: ranges},
	}
}

func fileField(f *model.UploadedFile, wireName string) model.FormField {
	return model.FormField{Name: FieldFiles, File: f, FileName: wireName}
}

func formatInches(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Payload is an encoded-on-demand multipart body. Its boundary is fixed at
// construction so the content type is known before any bytes are written.
type Payload struct {
	fields   []model.FormField
	boundary string
}

// NewPayload creates a Payload for fields.
func NewPayload(fields []model.FormField) *Payload {
	return &Payload{
		fields:   fields,
		boundary: multipart.NewWriter(io.Discard).Boundary(),
	}
}

// ContentType returns the multipart/form-data content type with boundary.
func (p *Payload) ContentType() string {
	return "multipart/form-data; boundary=" + p.boundary
}

// WriteTo streams the form to w. File contents are copied from disk part by
// part; nothing is held in memory beyond the copy buffer.
func (p *Payload) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	mw := multipart.NewWriter(cw)
	if err := mw.SetBoundary(p.boundary); err != nil {
		return cw.n, fmt.Errorf("set boundary: %w", err)
	}

	for _, f := range p.fields {
		if !f.IsFile() {
			if err := mw.WriteField(f.Name, f.Value); err != nil {
				return cw.n, fmt.Errorf("write field %s: %w", f.Name, err)
			}
			continue
		}
		if err := writeFile(mw, f); err != nil {
			return cw.n, err
		}
	}

	if err := mw.Close(); err != nil {
		return cw.n, fmt.Errorf("close multipart writer: %w", err)
	}
	return cw.n, nil
}

func writeFile(mw *multipart.Writer, f model.FormField) error {
	src, err := os.Open(f.File.Path)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer func() { _ = src.Close() }()

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(f.Name), escapeQuotes(f.FileName)))
	h.Set("Content-Type", contentTypeFor(f.FileName))

	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", f.FileName, err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("copy %s: %w", f.FileName, err)
	}
	return nil
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
