package upload

import (
	"errors"
	"fmt"
)

// ErrNotMultipart is returned when the request body is not multipart/form-data.
var ErrNotMultipart = errors.New("request body must be multipart/form-data")

// ValidationError reports an inbound request that cannot be relayed as sent.
// Nothing is left staged when it is returned.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // optional cause
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UploadError reports a failure writing an uploaded part to temporary storage.
type UploadError struct {
	Field    string
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("stage %s (%q): %v", e.Field, e.FileName, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}
