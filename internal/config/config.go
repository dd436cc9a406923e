package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"annotator/internal/logger"
)

// Supported OCR engines.
const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"
)

type Config struct {
	// Storage
	DatabasePath string

	// Image ingestion; the first root is where sync-images looks for files.
	ImageRoots []string

	// OCR pipeline
	OCREngine         string
	OCRLanguage       string
	OCRWorkers        int
	OCRBatchSize      int
	OCRProgressEvery  int
	PersistConfidence bool
	SingleThreaded    bool

	// Review
	SuggestionsFile    string
	NormalizeReviewOCR bool

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		DatabasePath:       getEnv("DATABASE_PATH", "db/local_database.db"),
		ImageRoots:         getEnvList("IMAGE_ROOTS", []string{"static", "/app/static"}),
		OCREngine:          strings.ToLower(getEnv("OCR_ENGINE", EngineTesseract)),
		OCRLanguage:        getEnv("OCR_LANGUAGE", "eng"),
		OCRWorkers:         getEnvInt("OCR_WORKERS", runtime.NumCPU()),
		OCRBatchSize:       getEnvInt("OCR_BATCH_SIZE", 100),
		OCRProgressEvery:   getEnvInt("OCR_PROGRESS_EVERY", 10),
		PersistConfidence:  getEnvBool("OCR_PERSIST_CONFIDENCE", true),
		SingleThreaded:     getEnvBool("OCR_SINGLE_THREADED", false),
		SuggestionsFile:    getEnv("SUGGESTIONS_FILE", "static/data/app_suggestions.json"),
		NormalizeReviewOCR: getEnvBool("REVIEW_NORMALIZE_OCR", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:      getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:          getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if len(c.ImageRoots) == 0 {
		return fmt.Errorf("IMAGE_ROOTS must name at least one directory")
	}
	if c.OCREngine != EngineTesseract && c.OCREngine != EngineVision {
		return fmt.Errorf("OCR_ENGINE must be %q or %q, got %q", EngineTesseract, EngineVision, c.OCREngine)
	}
	if c.OCRWorkers <= 0 {
		return fmt.Errorf("OCR_WORKERS must be positive")
	}
	if c.OCRBatchSize <= 0 {
		return fmt.Errorf("OCR_BATCH_SIZE must be positive")
	}
	if c.OCRProgressEvery <= 0 {
		return fmt.Errorf("OCR_PROGRESS_EVERY must be positive")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
