package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"annotator/internal/logger"
)

var (
	pngMagic  = []byte("\x89PNG")
	jpegMagic = []byte{0xff, 0xd8}
)

// Extractor validates image files and runs them through an Engine.
type Extractor struct {
	engine   Engine
	paths    *PathResolver
	language string
	log      zerolog.Logger
}

// NewExtractor creates an extractor reading images from the resolver's roots.
func NewExtractor(engine Engine, paths *PathResolver, language string) *Extractor {
	if language == "" {
		language = DefaultLanguage
	}
	return &Extractor{
		engine:   engine,
		paths:    paths,
		language: language,
		log:      logger.WithComponent("ocr"),
	}
}

// Language returns the language tag stamped on results.
func (x *Extractor) Language() string {
	return x.language
}

// Version returns the engine version stamped on results.
func (x *Extractor) Version() string {
	return x.engine.Version()
}

// Extract reads the image stored at storedPath and recognizes its text.
// Every failure comes back as an *ExtractionError; a crashing engine is
// recovered and reported the same way.
func (x *Extractor) Extract(ctx context.Context, storedPath string) (result *Result, err error) {
	const op = "Extract"

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = NewExtractionError(op, storedPath, ErrEngineFailed, fmt.Sprintf("engine panic: %v", r))
		}
	}()

	path, err := x.paths.Resolve(storedPath)
	if err != nil {
		return nil, WrapExtractionError("Resolve", storedPath, err, "")
	}

	data, err := readImage(path)
	if err != nil {
		return nil, WrapExtractionError("ReadImage", storedPath, err, "")
	}

	start := time.Now()
	recognition, err := x.engine.Recognize(ctx, data)
	if err != nil {
		return nil, NewExtractionError("Recognize", storedPath, fmt.Errorf("%w: %w", ErrEngineFailed, err), x.engine.Name())
	}

	text := strings.TrimSpace(recognition.Text)
	if text == "" {
		text = NoTextDetected
	}

	result = &Result{
		Text:               text,
		Confidence:         AverageConfidence(recognition.TokenConfidences),
		Path:               path,
		Language:           x.language,
		Version:            x.engine.Version(),
		ProcessingDuration: time.Since(start),
	}

	x.log.Debug().
		Str("path", path).
		Float64("confidence", result.Confidence).
		Int("text_length", len(result.Text)).
		Dur("duration", result.ProcessingDuration).
		Msg("Image recognized")

	return result, nil
}

// readImage loads the file and checks it is a decodable PNG or JPEG before
// it reaches the engine.
func readImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, pngMagic) && !bytes.HasPrefix(data, jpegMagic) {
		return nil, ErrUnsupportedFormat
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptImage, err)
	}
	return data, nil
}
