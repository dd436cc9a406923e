// Package vision implements ocr.Engine with Google Cloud Vision document text
// detection.
//
// Required Environment Variables (one of):
//   - GOOGLE_APPLICATION_CREDENTIALS: Path to service account JSON file
//   - GOOGLE_CREDENTIALS: Inline JSON credentials string
//
// Without either, Application Default Credentials are tried.
package vision

import (
	"context"
	"errors"
	"fmt"
	"os"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"annotator/internal/ocr"
)

// ErrMissingCredentials is returned when no Google Cloud credentials can be found.
var ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS environment variable")

// Version is stamped on results produced by this engine.
const Version = "vision-v1"

// languageHints maps Tesseract language codes onto Vision BCP-47 hints.
var languageHints = map[string]string{
	"eng": "en",
	"deu": "de",
	"fra": "fr",
	"spa": "es",
	"ita": "it",
	"nld": "nl",
}

// Engine recognizes text through the Vision API.
type Engine struct {
	client *vision.ImageAnnotatorClient
	hints  []string
}

// NewEngine creates a Vision engine with credentials from environment.
func NewEngine(ctx context.Context, language string) (*Engine, error) {
	var client *vision.ImageAnnotatorClient
	var err error

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, fmt.Errorf("vision: failed to create client with GOOGLE_CREDENTIALS: %w", err)
		}
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credFile))
		if err != nil {
			return nil, fmt.Errorf("vision: failed to create client with GOOGLE_APPLICATION_CREDENTIALS: %w", err)
		}
	} else {
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("vision: %w: %v", ErrMissingCredentials, err)
		}
	}

	return NewEngineWithClient(client, language), nil
}

// NewEngineWithClient creates an engine around an explicit client.
func NewEngineWithClient(client *vision.ImageAnnotatorClient, language string) *Engine {
	e := &Engine{client: client}
	if hint, ok := languageHints[language]; ok {
		e.hints = []string{hint}
	}
	return e
}

func (e *Engine) Name() string    { return "vision" }
func (e *Engine) Version() string { return Version }

// Recognize runs DOCUMENT_TEXT_DETECTION on one image.
func (e *Engine) Recognize(ctx context.Context, image []byte) (*ocr.Recognition, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: image},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
				ImageContext: &visionpb.ImageContext{LanguageHints: e.hints},
			},
		},
	}

	resp, err := e.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vision API call failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return nil, fmt.Errorf("no response from vision API")
	}
	return recognitionFromResponse(resp.Responses[0])
}

// recognitionFromResponse collects the full text and one confidence per word,
// scaled from Vision's 0-1 range to 0-100.
func recognitionFromResponse(resp *visionpb.AnnotateImageResponse) (*ocr.Recognition, error) {
	if resp.Error != nil {
		return nil, fmt.Errorf("vision API error: %s", resp.Error.Message)
	}

	annotation := resp.FullTextAnnotation
	if annotation == nil {
		return &ocr.Recognition{}, nil
	}

	var confidences []float64
	for _, page := range annotation.Pages {
		for _, block := range page.Blocks {
			for _, paragraph := range block.Paragraphs {
				for _, word := range paragraph.Words {
					confidences = append(confidences, float64(word.Confidence)*100)
				}
			}
		}
	}

	return &ocr.Recognition{Text: annotation.Text, TokenConfidences: confidences}, nil
}

// Close closes the underlying Vision client.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
