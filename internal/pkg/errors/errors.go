package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedMime signals a file type no extractor handles.
	ErrUnsupportedMime = errors.New("unsupported mime type")
)

// DocumentExtractionError is the fatal boundary error for a document parse:
// it carries the MIME type and the underlying cause for caller-side reporting.
type DocumentExtractionError struct {
	MimeType string
	FileName string
	Cause    error
}

func (e *DocumentExtractionError) Error() string {
	return fmt.Sprintf("document extraction failed (mime=%s file=%s): %v", e.MimeType, e.FileName, e.Cause)
}

func (e *DocumentExtractionError) Unwrap() error { return e.Cause }

// BatchExtractionError marks a hard failure extracting one page batch.
// Batch extraction failures are fatal to the whole parse.
type BatchExtractionError struct {
	BatchIndex int
	RawExcerpt string
	Cause      error
}

func (e *BatchExtractionError) Error() string {
	excerpt := e.RawExcerpt
	if len(excerpt) > 240 {
		excerpt = excerpt[:240]
	}
	return fmt.Sprintf("batch %d extraction failed: %v (raw=%q)", e.BatchIndex, e.Cause, excerpt)
}

func (e *BatchExtractionError) Unwrap() error { return e.Cause }
