package study

import (
	"errors"
	"fmt"
)

var (
	ErrStudyNotFound    = errors.New("study not found")
	ErrNoParticipants   = errors.New("no participants to split")
	ErrNoBatches        = errors.New("no batch studies found")
	ErrBatchNotEmpty    = errors.New("batch study is not empty, merge first before deleting")
	ErrInvalidBatchSize = errors.New("batch size must be positive")
)

// StructuralError reports a split, merge or delete that was aborted. Nothing
// of the operation was persisted.
type StructuralError struct {
	Op    string // split, merge or delete-batches
	Study string // study the failure is about
	Err   error
}

func (e *StructuralError) Error() string {
	if e.Study != "" {
		return fmt.Sprintf("study %s failed for %q: %v", e.Op, e.Study, e.Err)
	}
	return fmt.Sprintf("study %s failed: %v", e.Op, e.Err)
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

func structural(op, study string, err error) error {
	var se *StructuralError
	if errors.As(err, &se) {
		return err
	}
	return &StructuralError{Op: op, Study: study, Err: err}
}
