// Package tesseract implements ocr.Engine on top of the Tesseract library
// through gosseract. Building it requires libtesseract and leptonica headers.
package tesseract

import (
	"context"
	"fmt"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"annotator/internal/ocr"
)

// Engine recognizes text with a fresh gosseract client per image, so it is
// safe for concurrent use.
type Engine struct {
	language      string
	clientFactory func() *gosseract.Client

	versionOnce sync.Once
	version     string
}

// New constructs a Tesseract-backed engine for a Tesseract language code.
func New(language string) *Engine {
	if language == "" {
		language = ocr.DefaultLanguage
	}
	return &Engine{language: language, clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Version returns the library version reduced to major.minor.patch.
func (e *Engine) Version() string {
	e.versionOnce.Do(func() {
		c := e.clientFactory()
		defer c.Close()
		e.version = ocr.SimplifyVersion(c.Version())
	})
	return e.version
}

// Recognize treats the image as one uniform block of text (page segmentation
// mode 6) so line breaks survive, then collects word-level confidences.
func (e *Engine) Recognize(ctx context.Context, image []byte) (*ocr.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetLanguage(e.language); err != nil {
		return nil, fmt.Errorf("set language %q: %w", e.language, err)
	}
	if err := c.SetPageSegMode(gosseract.PSM_SINGLE_BLOCK); err != nil {
		return nil, fmt.Errorf("set page segmentation mode: %w", err)
	}
	if err := c.SetImageFromBytes(image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}

	// Missing boxes only cost the score, the text is still usable.
	var confidences []float64
	if boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD); err == nil {
		confidences = make([]float64, 0, len(boxes))
		for _, box := range boxes {
			if box.Word == "" {
				continue
			}
			confidences = append(confidences, box.Confidence)
		}
	}

	return &ocr.Recognition{Text: text, TokenConfidences: confidences}, nil
}
