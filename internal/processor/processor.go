// Package processor runs OCR over many images and persists the results.
//
// A run resolves a Selector into image ids, loads the image records, fans
// extraction out over a bounded worker pool (or runs it sequentially when the
// caller is itself a queue worker), and flushes successful results to the
// store in fixed-size transactional batches. The count a run reports is the
// number of rows the store actually committed.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"annotator/internal/logger"
	"annotator/internal/ocr"
	"annotator/internal/store"
	"annotator/pkg/models"
)

// Default tuning values.
const (
	DefaultBatchSize     = 100
	DefaultProgressEvery = 10
)

// errWorkerCrashed marks a pool failure that triggers a sequential retry.
var errWorkerCrashed = errors.New("worker crashed")

// Extractor turns a stored image path into text. A panic escaping Extract
// crashes the pool and sends the sub-batch to the sequential retry;
// *ocr.Extractor recovers engine panics itself and reports them as
// extraction failures, so with it that retry is not reached.
type Extractor interface {
	Extract(ctx context.Context, storedPath string) (*ocr.Result, error)
	Language() string
	Version() string
}

// Store is the image and result surface a run needs.
type Store interface {
	AllImageIDs(ctx context.Context) ([]uint, error)
	ProcessedImageIDs(ctx context.Context) ([]uint, error)
	ImageIDsByStudy(ctx context.Context, studyID uint) ([]uint, error)
	ImageIDsForFirstParticipants(ctx context.Context, limit int) ([]uint, error)
	ImagesByIDs(ctx context.Context, ids []uint) ([]models.Image, error)
	SaveBatch(ctx context.Context, inputs []store.ResultInput, opts store.SaveOptions) (int, error)
}

// Options tunes a Processor.
type Options struct {
	// Workers bounds the extraction pool.
	Workers int

	// BatchSize is the number of results committed per transaction.
	BatchSize int

	// ProgressEvery controls how often progress is logged.
	ProgressEvery int

	// PersistConfidence stores the confidence score; when false the column
	// is left NULL.
	PersistConfidence bool
}

// RunOptions are decided per invocation by the caller.
type RunOptions struct {
	// SingleThreaded disables the worker pool. Callers running inside a
	// queue worker must set it.
	SingleThreaded bool
}

// Report summarizes one run.
type Report struct {
	RunID string `json:"run_id"`

	// Targets is the number of image ids the selector resolved to.
	Targets int `json:"targets"`

	// Extracted and Failed count extraction outcomes.
	Extracted int `json:"extracted"`
	Failed    int `json:"failed"`

	// Saved is the number of result rows committed (inserted or updated).
	Saved int `json:"saved"`

	// Unsaved counts extracted results lost to rolled back flushes.
	Unsaved int `json:"unsaved"`

	FailedFlushes int `json:"failed_flushes"`

	// Fallbacks counts sub-batches retried sequentially after a pool failure.
	Fallbacks int `json:"fallbacks"`

	SingleThreaded bool          `json:"single_threaded"`
	Duration       time.Duration `json:"duration"`
}

// Processor orchestrates extraction and persistence.
type Processor struct {
	store     Store
	extractor Extractor
	opts      Options
}

// New creates a processor. Zero options fall back to defaults.
func New(st Store, extractor Extractor, opts Options) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	return &Processor{store: st, extractor: extractor, opts: opts}
}

// outcome is the extraction result for one image.
type outcome struct {
	imageID uint
	result  *ocr.Result
	err     error
}

// Process runs OCR over the images picked by sel and returns a report whose
// Saved field is the committed row count. Failures of single images, pool
// crashes and failed flushes are counted, not returned; an error is returned
// only when targets cannot be selected or ctx ends the run early.
func (p *Processor) Process(ctx context.Context, sel Selector, run RunOptions) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), SingleThreaded: run.SingleThreaded}
	log := logger.WithRunID("processor", report.RunID)

	ids, err := p.resolve(ctx, sel)
	if err != nil {
		return report, fmt.Errorf("processor: %w", err)
	}
	report.Targets = len(ids)

	workers := p.opts.Workers
	if run.SingleThreaded {
		workers = 1
	}

	log.Info().
		Str("selector", sel.Kind()).
		Int("targets", len(ids)).
		Int("workers", workers).
		Bool("single_threaded", run.SingleThreaded).
		Msg("Starting OCR run")

	if len(ids) == 0 {
		report.Duration = time.Since(start)
		log.Info().Msg("No images to process")
		return report, nil
	}

	prog := newProgress(log, len(ids), p.opts.ProgressEvery)
	saveOpts := store.SaveOptions{
		Language:          p.extractor.Language(),
		Version:           p.extractor.Version(),
		PersistConfidence: p.opts.PersistConfidence,
	}

	var pending []store.ResultInput
	flush := func(batch []store.ResultInput) {
		saved, err := p.store.SaveBatch(ctx, batch, saveOpts)
		if err != nil {
			report.FailedFlushes++
			report.Unsaved += len(batch)
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to save OCR batch")
			return
		}
		report.Saved += saved
	}

	for i := 0; i < len(ids); i += p.opts.BatchSize {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("processor: run interrupted: %w", err)
		}

		end := min(i+p.opts.BatchSize, len(ids))
		chunk := ids[i:end]

		images, err := p.store.ImagesByIDs(ctx, chunk)
		if err != nil {
			log.Error().Err(err).Int("chunk_size", len(chunk)).Msg("Failed to load images")
			for range chunk {
				prog.record(false)
			}
			report.Failed += len(chunk)
			continue
		}
		if missing := len(chunk) - len(images); missing > 0 {
			log.Warn().Int("missing", missing).Msg("Selected images no longer exist")
			for i := 0; i < missing; i++ {
				prog.record(false)
			}
			report.Failed += missing
		}

		outcomes := p.extractChunk(ctx, images, workers, prog, report, log)

		for _, o := range outcomes {
			if o.err != nil {
				report.Failed++
				log.Warn().Err(o.err).Uint("image_id", o.imageID).Msg("OCR extraction failed")
				continue
			}
			report.Extracted++
			pending = append(pending, store.ResultInput{
				ImageID:    o.imageID,
				Text:       o.result.Text,
				Confidence: o.result.Confidence,
			})
		}

		for len(pending) >= p.opts.BatchSize {
			flush(pending[:p.opts.BatchSize])
			pending = pending[p.opts.BatchSize:]
		}
	}

	if len(pending) > 0 {
		flush(pending)
	}

	report.Duration = time.Since(start)
	log.Info().
		Int("targets", report.Targets).
		Int("extracted", report.Extracted).
		Int("failed", report.Failed).
		Int("saved", report.Saved).
		Int("failed_flushes", report.FailedFlushes).
		Int("fallbacks", report.Fallbacks).
		Dur("duration", report.Duration).
		Msg("OCR run completed")

	return report, nil
}

// extractChunk runs one sub-batch through the pool. If the pool fails, its
// partial outcomes are discarded and the sub-batch is retried sequentially.
func (p *Processor) extractChunk(ctx context.Context, images []models.Image, workers int, prog *progress, report *Report, log zerolog.Logger) []outcome {
	if workers <= 1 {
		return p.extractSequential(ctx, images, prog)
	}

	mark := prog.snapshot()
	outcomes, err := p.extractParallel(ctx, images, workers, prog)
	if err == nil {
		return outcomes
	}

	report.Fallbacks++
	prog.restore(mark)
	log.Warn().Err(err).Int("chunk_size", len(images)).Msg("Worker pool failed, retrying chunk single-threaded")
	return p.extractSequential(ctx, images, prog)
}

func (p *Processor) extractParallel(ctx context.Context, images []models.Image, workers int, prog *progress) ([]outcome, error) {
	outcomes := make([]outcome, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, image := range images {
		i, image := i, image
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w on image %d: %v", errWorkerCrashed, image.ID, r)
				}
			}()

			result, extractErr := p.extractor.Extract(gctx, image.Filepath)
			outcomes[i] = outcome{imageID: image.ID, result: result, err: extractErr}
			prog.record(extractErr == nil)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *Processor) extractSequential(ctx context.Context, images []models.Image, prog *progress) []outcome {
	outcomes := make([]outcome, 0, len(images))
	for _, image := range images {
		o := p.extractOne(ctx, image)
		prog.record(o.err == nil)
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (p *Processor) extractOne(ctx context.Context, image models.Image) (o outcome) {
	o.imageID = image.ID
	defer func() {
		if r := recover(); r != nil {
			o.result = nil
			o.err = fmt.Errorf("%w on image %d: %v", errWorkerCrashed, image.ID, r)
		}
	}()
	o.result, o.err = p.extractor.Extract(ctx, image.Filepath)
	return o
}

// progress logs running tallies every n completed images and at the end.
type progress struct {
	mu        sync.Mutex
	log       zerolog.Logger
	total     int
	every     int
	done      int
	succeeded int
	failed    int
}

type progressMark struct {
	done, succeeded, failed int
}

func newProgress(log zerolog.Logger, total, every int) *progress {
	return &progress{log: log, total: total, every: every}
}

func (pr *progress) record(ok bool) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.done++
	if ok {
		pr.succeeded++
	} else {
		pr.failed++
	}

	if pr.done%pr.every == 0 || pr.done == pr.total {
		pr.log.Info().
			Int("done", pr.done).
			Int("total", pr.total).
			Int("succeeded", pr.succeeded).
			Int("failed", pr.failed).
			Msg("OCR progress")
	}
}

func (pr *progress) snapshot() progressMark {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return progressMark{done: pr.done, succeeded: pr.succeeded, failed: pr.failed}
}

func (pr *progress) restore(m progressMark) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.done, pr.succeeded, pr.failed = m.done, m.succeeded, m.failed
}
