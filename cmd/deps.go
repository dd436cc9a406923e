package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"annotator/internal/config"
	"annotator/internal/ingest"
	"annotator/internal/ocr"
	"annotator/internal/ocr/tesseract"
	"annotator/internal/ocr/vision"
	"annotator/internal/processor"
	"annotator/internal/review"
	"annotator/internal/store"
	"annotator/internal/suggestions"
	"annotator/internal/tasks"
)

// pipeline holds the components a command wires together.
type pipeline struct {
	cfg     *config.Config
	store   *store.Store
	closers []func() error
}

func openPipeline() (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return &pipeline{cfg: cfg, store: st, closers: []func() error{st.Close}}, nil
}

func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	return errors.Join(errs...)
}

// newEngine builds the OCR engine named by the configuration.
func newEngine(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ocr.Engine, func() error, error) {
	switch cfg.OCREngine {
	case config.EngineVision:
		engine, err := vision.NewEngine(ctx, cfg.OCRLanguage)
		if err != nil {
			if errors.Is(err, vision.ErrMissingCredentials) {
				log.Error().Err(err).Msg("Google Cloud credentials validation failed")
				return nil, nil, fmt.Errorf("Google Cloud credentials not configured. Please set one of:\n\n" +
					"1. Export GOOGLE_APPLICATION_CREDENTIALS with path to service account JSON:\n" +
					"   export GOOGLE_APPLICATION_CREDENTIALS=/path/to/service-account-key.json\n\n" +
					"2. Export GOOGLE_CREDENTIALS with inline JSON\n\n" +
					"Original error: %w", err)
			}
			return nil, nil, fmt.Errorf("failed to create OCR engine: %w", err)
		}
		return engine, engine.Close, nil
	default:
		return tesseract.New(cfg.OCRLanguage), func() error { return nil }, nil
	}
}

func (p *pipeline) extractor(ctx context.Context, roots []string, log zerolog.Logger) (*ocr.Extractor, error) {
	engine, closeEngine, err := newEngine(ctx, p.cfg, log)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, closeEngine)

	resolver, err := ocr.NewPathResolver(roots)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("engine", engine.Name()).Strs("roots", resolver.Roots()).Msg("OCR engine ready")
	return ocr.NewExtractor(engine, resolver, p.cfg.OCRLanguage), nil
}

func (p *pipeline) processor(ctx context.Context, log zerolog.Logger) (*processor.Processor, error) {
	x, err := p.extractor(ctx, p.cfg.ImageRoots, log)
	if err != nil {
		return nil, err
	}
	return processor.New(p.store, x, processor.Options{
		Workers:           p.cfg.OCRWorkers,
		BatchSize:         p.cfg.OCRBatchSize,
		ProgressEvery:     p.cfg.OCRProgressEvery,
		PersistConfidence: p.cfg.PersistConfidence,
	}), nil
}

func (p *pipeline) syncer() *ingest.Syncer {
	return ingest.NewSyncer(p.store, p.cfg.ImageRoots[0])
}

// runner builds the task runner. inWorker is set by the queue worker.
func (p *pipeline) runner(ctx context.Context, inWorker bool, log zerolog.Logger) (*tasks.Runner, error) {
	proc, err := p.processor(ctx, log)
	if err != nil {
		return nil, err
	}
	return tasks.NewRunner(proc, p.syncer(), inWorker, p.cfg.SingleThreaded), nil
}

func (p *pipeline) reconciler() *review.Reconciler {
	return review.NewReconciler(p.store, suggestions.New(p.cfg.SuggestionsFile), p.cfg.NormalizeReviewOCR)
}

// signalContext is canceled on SIGINT/SIGTERM or after timeout (0 = none).
func signalContext(timeout time.Duration, log zerolog.Logger) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
