package service

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"pdf-gateway-go/internal/config"
	"pdf-gateway-go/internal/form"
	"pdf-gateway-go/internal/model"
	"pdf-gateway-go/internal/upload"
)

// Inbound scalar field names.
const (
	ValueRanges      = "ranges"
	ValueSplitMode   = "splitMode"
	ValuePaperWidth  = "paperWidth"
	ValuePaperHeight = "paperHeight"
)

// Operation describes one public relay endpoint.
type Operation struct {
	Name         string
	Route        string
	UpstreamPath string
	Files        upload.Selector
	ContentType  string
	Filename     string

	// Fields builds the outbound form from the staged files and inbound values.
	Fields func(files []model.UploadedFile, values url.Values) ([]model.FormField, error)
}

// Operations is the set of relay endpoints served by the gateway.
type Operations []Operation

// NewOperations returns the merge, convert-html and split operations, using
// cfg for limits and defaults.
func NewOperations(cfg *config.Config) Operations {
	return Operations{
		{
			Name:         "merge",
			Route:        "/merge",
			UpstreamPath: "/forms/pdfengines/merge",
			Files:        upload.Selector{Field: "files", Min: 1, Max: cfg.Upload.MaxFiles},
			ContentType:  "application/pdf",
			Filename:     "merged-result.pdf",
			Fields: func(files []model.UploadedFile, _ url.Values) ([]model.FormField, error) {
				return form.Merge(files), nil
			},
		},
		{
			Name:         "convert-html",
			Route:        "/convert-html",
			UpstreamPath: "/forms/chromium/convert/html",
			Files:        upload.Selector{Field: "htmlfile", Min: 1, Max: 1},
			ContentType:  "application/pdf",
			Filename:     "converted-result.pdf",
			Fields: func(files []model.UploadedFile, values url.Values) ([]model.FormField, error) {
				width, err := inches(values, ValuePaperWidth, cfg.Convert.PaperWidth)
				if err != nil {
					return nil, err
				}
				height, err := inches(values, ValuePaperHeight, cfg.Convert.PaperHeight)
				if err != nil {
					return nil, err
				}
				return form.ConvertHTML(&files[0], width, height), nil
			},
		},
		{
			Name:         "split",
			Route:        "/split",
			UpstreamPath: "/forms/pdfengines/split",
			Files:        upload.Selector{Field: "pdffile", Min: 1, Max: 1},
			ContentType:  "application/zip",
			Filename:     "split-result.zip",
			Fields: func(files []model.UploadedFile, values url.Values) ([]model.FormField, error) {
				// Forwarded as sent; the engine owns range syntax.
				ranges := values.Get(ValueRanges)
				if strings.TrimSpace(ranges) == "" {
					return nil, &upload.ValidationError{Field: ValueRanges, Reason: "page ranges are required"}
				}
				mode := values.Get(ValueSplitMode)
				if mode == "" {
					mode = cfg.Split.Mode
				}
				return form.Split(&files[0], ranges, mode), nil
			},
		},
	}
}

// inches reads an optional positive page dimension, falling back to def.
func inches(values url.Values, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(v > 0) || math.IsInf(v, 0) {
		return 0, &upload.ValidationError{Field: key, Reason: fmt.Sprintf("must be a positive number of inches; got %q", raw)}
	}
	return v, nil
}
