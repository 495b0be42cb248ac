// Package model defines shared types for the gateway.
package model

import (
	"io"
	"net/http"
)

// UploadedFile is an inbound file part staged to temporary storage.
type UploadedFile struct {
	Path         string
	OriginalName string
	Size         int64
}

// FormField is one part of an outbound multipart form. File is nil for
// scalar fields; for file parts FileName is the name sent on the wire.
type FormField struct {
	Name     string
	Value    string
	File     *UploadedFile
	FileName string
}

// IsFile reports whether the field carries file content.
func (f FormField) IsFile() bool {
	return f.File != nil
}

// OutboundOperation is a single POST to the document engine.
type OutboundOperation struct {
	Name   string
	URL    string
	Method string
	Fields []FormField
	Header http.Header
}

// RelayResponse is a successful upstream response to be streamed back.
type RelayResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Outcome is the terminal state of a relayed request.
type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeRejectedInput  Outcome = "rejected_input"
	OutcomeUpstreamError  Outcome = "upstream_error"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeInternalError  Outcome = "internal_error"
	OutcomeClientGone     Outcome = "client_gone"
)
