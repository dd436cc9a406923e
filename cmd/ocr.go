package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"annotator/internal/config"
	"annotator/internal/logger"
	"annotator/internal/ocr"
)

var ocrCmd = &cobra.Command{
	Use:   "ocr [image-file]",
	Short: "Extract text from one screenshot",
	Long: `Run the configured OCR engine (OCR_ENGINE) on a single PNG or JPEG image.

The image is recognized as one uniform block of text so line breaks are
kept. Blank images yield "No text detected". Nothing is written to the
database.

Environment variables:
  OCR_ENGINE   - tesseract (default) or vision
  OCR_LANGUAGE - Tesseract language code (default: eng)
  GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS - for the vision engine`,
	Example: `  # Print the text of a screenshot
  annotator ocr screenshot.png

  # JSON with confidence and engine version
  annotator ocr screenshot.png --json -o result.json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

// OCROutput represents the JSON output structure when --json flag is used
type OCROutput struct {
	Text               string  `json:"text"`
	Confidence         float64 `json:"confidence"`
	Language           string  `json:"language"`
	Version            string  `json:"version"`
	ProcessingDuration string  `json:"processing_duration"`
	FileName           string  `json:"file_name"`
}

func init() {
	rootCmd.AddCommand(ocrCmd)

	ocrCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	ocrCmd.Flags().Bool("json", false, "Output as JSON")
	ocrCmd.Flags().Int("timeout", 120, "Processing timeout in seconds")
}

func runOCR(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("ocr")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid image path: %w", err)
	}

	ctx, cancel := signalContext(time.Duration(timeoutSecs)*time.Second, log)
	defer cancel()

	engine, closeEngine, err := newEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeEngine()

	resolver, err := ocr.NewPathResolver([]string{filepath.Dir(abs)})
	if err != nil {
		return err
	}
	extractor := ocr.NewExtractor(engine, resolver, cfg.OCRLanguage)

	log.Info().
		Str("file", abs).
		Str("engine", engine.Name()).
		Msg("Starting OCR processing")

	result, err := extractor.Extract(ctx, filepath.Base(abs))
	if err != nil {
		return handleOCRError(err, log)
	}

	log.Info().
		Float64("confidence", result.Confidence).
		Dur("duration", result.ProcessingDuration).
		Int("text_length", len(result.Text)).
		Msg("OCR processing completed successfully")

	return outputResult(result, abs, outputPath, jsonOutput, log)
}

// handleOCRError provides user-friendly error messages for OCR failures
func handleOCRError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("OCR processing failed")

	switch {
	case errors.Is(err, ocr.ErrFileNotFound):
		return fmt.Errorf("image file not found: %w", err)
	case errors.Is(err, ocr.ErrNotRegularFile):
		return fmt.Errorf("path is not a regular file: %w", err)
	case errors.Is(err, ocr.ErrUnsupportedFormat):
		return fmt.Errorf("unsupported image format, only PNG and JPEG are accepted: %w", err)
	case errors.Is(err, ocr.ErrCorruptImage):
		return fmt.Errorf("image could not be decoded, check the file integrity: %w", err)
	case errors.Is(err, ocr.ErrEngineFailed):
		return fmt.Errorf("OCR engine failed: %w", err)
	default:
		return fmt.Errorf("OCR processing failed: %w", err)
	}
}

func outputResult(result *ocr.Result, path, outputPath string, jsonOutput bool, log zerolog.Logger) error {
	var data []byte
	if jsonOutput {
		var err error
		data, err = json.MarshalIndent(OCROutput{
			Text:               result.Text,
			Confidence:         result.Confidence,
			Language:           result.Language,
			Version:            result.Version,
			ProcessingDuration: result.ProcessingDuration.String(),
			FileName:           filepath.Base(path),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
	} else {
		data = []byte(strings.TrimRight(result.Text, "\n") + "\n")
	}

	if outputPath == "" {
		_, err := os.Stdout.Write(data)
		return err
	}

	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		log.Error().
			Err(err).
			Str("output_file", outputPath).
			Msg("Failed to write output file")
		return fmt.Errorf("failed to write output file: %w", err)
	}
	log.Info().
		Str("output_file", outputPath).
		Int("bytes", len(data)).
		Msg("OCR results written to file")
	return nil
}
