package review

import (
	"fmt"
	"strings"
)

// RejectionText is the canned text reviewers submit for unusable screenshots.
// It always validates.
const RejectionText = "Rejected: Text is illegible or not relevant."

// ValidationError explains why a corrected text was refused. Line is 1-based
// and 0 when the problem is not tied to a line.
type ValidationError struct {
	Line   int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return e.Reason
}

// Validate checks a corrected text. Lines are trimmed and empty ones skipped;
// a line containing a comma must hold at least two non-empty comma-separated
// parts, as in "facebook,1h".
func Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &ValidationError{Reason: "corrected text cannot be empty"}
	}
	if trimmed == RejectionText {
		return nil
	}

	n := 0
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n++
		if !strings.Contains(line, ",") {
			continue
		}

		parts := 0
		for _, part := range strings.Split(line, ",") {
			if strings.TrimSpace(part) != "" {
				parts++
			}
		}
		if parts < 2 {
			return &ValidationError{
				Line:   n,
				Reason: fmt.Sprintf("expected at least two comma-separated parts, found %q", line),
			}
		}
	}
	return nil
}
