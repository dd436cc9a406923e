package processor

import (
	"context"
	"fmt"
)

// Selector describes which images a run targets. The first non-zero field
// wins, in the order StudyID, ImageIDs, then the global sweep (optionally
// capped with LimitPerStudy).
type Selector struct {
	// StudyID restricts the run to one study.
	StudyID uint

	// ImageIDs names images explicitly. They are always processed, even if
	// they already have a result.
	ImageIDs []uint

	// LimitPerStudy caps the sweep to the first N participants of every
	// study. Zero means no cap.
	LimitPerStudy int

	// Force includes already processed images for study and sweep runs.
	Force bool
}

// Kind names the selector for logs.
func (s Selector) Kind() string {
	switch {
	case s.StudyID != 0:
		return "study"
	case len(s.ImageIDs) > 0:
		return "images"
	case s.LimitPerStudy > 0:
		return "limited-sweep"
	default:
		return "sweep"
	}
}

// resolve turns a selector into a concrete, duplicate-free list of image ids.
func (p *Processor) resolve(ctx context.Context, sel Selector) ([]uint, error) {
	var (
		ids []uint
		err error
	)

	switch sel.Kind() {
	case "study":
		ids, err = p.store.ImageIDsByStudy(ctx, sel.StudyID)
	case "images":
		return dedupe(sel.ImageIDs), nil
	case "limited-sweep":
		ids, err = p.store.ImageIDsForFirstParticipants(ctx, sel.LimitPerStudy)
	default:
		ids, err = p.store.AllImageIDs(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s targets: %w", sel.Kind(), err)
	}

	if sel.Force {
		return dedupe(ids), nil
	}

	processed, err := p.store.ProcessedImageIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("select %s targets: %w", sel.Kind(), err)
	}
	return Unprocessed(ids, processed), nil
}

// Unprocessed returns the ids in all that are absent from processed, keeping
// the order of all. It is a set difference, not a per-row lookup.
func Unprocessed(all, processed []uint) []uint {
	done := make(map[uint]struct{}, len(processed))
	for _, id := range processed {
		done[id] = struct{}{}
	}

	out := make([]uint, 0, len(all))
	for _, id := range all {
		if _, ok := done[id]; ok {
			continue
		}
		done[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func dedupe(ids []uint) []uint {
	return Unprocessed(ids, nil)
}
