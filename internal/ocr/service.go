// Package ocr turns stored screenshot paths into text and a confidence score.
//
// The package is split into an Engine, which recognizes text in raw image
// bytes (Tesseract locally, Google Cloud Vision remotely), and the Extractor,
// which owns everything around it:
//   - resolving a stored relative path under one of the allowed image roots
//   - confirming the file exists, is regular, and decodes as PNG or JPEG
//   - averaging the non-negative per-token confidences (0.0 when there are none)
//   - replacing empty output with the NoTextDetected sentinel
//   - converting engine errors and panics into an *ExtractionError
//
// Extraction touches no database and keeps no shared mutable state, so one
// Extractor can serve any number of concurrent workers.
package ocr

import (
	"context"
	"time"
)

// NoTextDetected is stored when the engine recognized nothing. It separates
// "processed, found nothing" from "not processed yet".
const NoTextDetected = "No text detected"

// DefaultLanguage is the language tag stamped on results when none is set.
const DefaultLanguage = "eng"

// Engine recognizes text in an encoded raster image.
type Engine interface {
	// Name identifies the engine in logs.
	Name() string

	// Version is the short engine version stamped on stored results.
	Version() string

	// Recognize runs full-page recognition on a PNG or JPEG image.
	Recognize(ctx context.Context, image []byte) (*Recognition, error)
}

// Recognition is the raw engine output.
type Recognition struct {
	// Text is the recognized text with line breaks preserved.
	Text string

	// TokenConfidences holds one 0-100 score per recognized token. Negative
	// values mark tokens without a score and are ignored.
	TokenConfidences []float64
}

// Result is the outcome of a successful extraction.
type Result struct {
	// Text is the trimmed recognized text, or NoTextDetected.
	Text string `json:"text"`

	// Confidence is the average token confidence (0.0 to 100.0).
	Confidence float64 `json:"confidence"`

	// Path is the resolved file that was read.
	Path string `json:"path"`

	Language string `json:"language"`
	Version  string `json:"version"`

	// ProcessingDuration is how long recognition took.
	ProcessingDuration time.Duration `json:"processing_duration"`
}
