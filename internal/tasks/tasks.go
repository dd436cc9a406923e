// Package tasks exposes the pipeline entry points a queue worker invokes.
//
// A Runner is built at the dispatch boundary. InWorker tells it the caller
// is itself one of the queue's workers, in which case OCR runs strictly
// single-threaded instead of starting a nested worker pool.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"annotator/internal/ingest"
	"annotator/internal/logger"
	"annotator/internal/processor"
)

// Task names accepted by Dispatch.
const (
	ProcessOCRTask = "process_ocr"
	SyncImagesTask = "sync_images"
)

var ErrUnknownTask = errors.New("unknown task")

// ProcessOCRArgs selects the images of an OCR task. StudyID wins over
// ImageIDs, which win over the LimitPerStudy sweep.
type ProcessOCRArgs struct {
	StudyID       uint   `json:"study_id,omitempty"`
	ImageIDs      []uint `json:"image_ids,omitempty"`
	LimitPerStudy int    `json:"limit_per_study,omitempty"`
	Force         bool   `json:"force,omitempty"`
}

// SyncImagesArgs selects the study folder to sync; zero syncs everything.
type SyncImagesArgs struct {
	StudyID uint `json:"study_id,omitempty"`
}

// Message is one queued task.
type Message struct {
	Task string          `json:"task"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Reply is the outcome of one dispatched message.
type Reply struct {
	Task   string `json:"task"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Runner executes tasks with the concurrency policy of its dispatch context.
type Runner struct {
	Processor *processor.Processor
	Syncer    *ingest.Syncer

	// InWorker marks a runner living inside a queue worker.
	InWorker bool

	// SingleThreaded forces sequential OCR even outside a worker.
	SingleThreaded bool

	log zerolog.Logger
}

// NewRunner creates a runner for the given dispatch context.
func NewRunner(p *processor.Processor, s *ingest.Syncer, inWorker, singleThreaded bool) *Runner {
	return &Runner{
		Processor:      p,
		Syncer:         s,
		InWorker:       inWorker,
		SingleThreaded: singleThreaded,
		log:            logger.WithComponent("tasks"),
	}
}

// ProcessOCR runs OCR for the selected images and returns the run report;
// report.Saved is the processed count.
func (r *Runner) ProcessOCR(ctx context.Context, args ProcessOCRArgs) (*processor.Report, error) {
	sel := processor.Selector{
		StudyID:       args.StudyID,
		ImageIDs:      args.ImageIDs,
		LimitPerStudy: args.LimitPerStudy,
		Force:         args.Force,
	}
	run := processor.RunOptions{SingleThreaded: r.InWorker || r.SingleThreaded}

	r.log.Info().
		Str("selector", sel.Kind()).
		Bool("in_worker", r.InWorker).
		Msg("Starting OCR processing task")

	report, err := r.Processor.Process(ctx, sel, run)
	if err != nil {
		return report, fmt.Errorf("process_ocr: %w", err)
	}

	r.log.Info().Int("processed", report.Saved).Msg("OCR processing task completed")
	return report, nil
}

// SyncImages registers new local images.
func (r *Runner) SyncImages(ctx context.Context, args SyncImagesArgs) (*ingest.Result, error) {
	res, err := r.Syncer.Sync(ctx, args.StudyID)
	if err != nil {
		return nil, fmt.Errorf("sync_images: %w", err)
	}
	return res, nil
}

// Dispatch decodes and runs one message. Task failures are reported in the
// reply, not returned.
func (r *Runner) Dispatch(ctx context.Context, msg Message) Reply {
	reply := Reply{Task: msg.Task}

	var (
		result any
		err    error
	)
	switch msg.Task {
	case ProcessOCRTask:
		var args ProcessOCRArgs
		if err = decodeArgs(msg.Args, &args); err == nil {
			result, err = r.ProcessOCR(ctx, args)
		}
	case SyncImagesTask:
		var args SyncImagesArgs
		if err = decodeArgs(msg.Args, &args); err == nil {
			result, err = r.SyncImages(ctx, args)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownTask, msg.Task)
	}

	if err != nil {
		r.log.Error().Err(err).Str("task", msg.Task).Msg("Task failed")
		reply.Error = err.Error()
		return reply
	}
	reply.Result = result
	return reply
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid task arguments: %w", err)
	}
	return nil
}
