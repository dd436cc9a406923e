package ocr

import (
	"errors"
	"fmt"
)

// Common extraction errors
var (
	// ErrInvalidPath is returned for empty or malformed stored paths.
	ErrInvalidPath = errors.New("invalid image path")

	// ErrPathOutsideRoots is returned when a stored path resolves outside every
	// allowed image root.
	ErrPathOutsideRoots = errors.New("image path resolves outside the allowed roots")

	// ErrFileNotFound is returned when no candidate location holds the file.
	ErrFileNotFound = errors.New("image file not found")

	// ErrNotRegularFile is returned for directories, devices and sockets.
	ErrNotRegularFile = errors.New("image path is not a regular file")

	// ErrUnsupportedFormat is returned when the file is neither PNG nor JPEG.
	ErrUnsupportedFormat = errors.New("unsupported image format (expected PNG or JPEG)")

	// ErrCorruptImage is returned when the file header is valid but decoding fails.
	ErrCorruptImage = errors.New("image could not be decoded")

	// ErrEngineFailed is returned when the recognition engine fails or crashes.
	ErrEngineFailed = errors.New("text recognition failed")
)

// ExtractionError wraps errors with additional context about the extraction failure.
type ExtractionError struct {
	// Op is the operation that failed (e.g., "Resolve", "Recognize").
	Op string

	// Path is the stored path the extraction was asked for.
	Path string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s %s failed: %s: %v", e.Op, e.Path, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// NewExtractionError creates a new ExtractionError.
func NewExtractionError(op, path string, err error, details string) *ExtractionError {
	return &ExtractionError{
		Op:      op,
		Path:    path,
		Err:     err,
		Details: details,
	}
}

// WrapExtractionError wraps an error as an ExtractionError if it isn't already one.
func WrapExtractionError(op, path string, err error, details string) error {
	if err == nil {
		return nil
	}

	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		return err
	}

	return NewExtractionError(op, path, err, details)
}
