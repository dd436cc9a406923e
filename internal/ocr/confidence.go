package ocr

import (
	"math"
	"regexp"
)

// AverageConfidence averages the non-negative token confidences, rounded to
// two decimals. It returns 0.0 when no token carries a score.
func AverageConfidence(confidences []float64) float64 {
	var sum float64
	var n int
	for _, c := range confidences {
		if c < 0 {
			continue
		}
		sum += c
		n++
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*100) / 100
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

// SimplifyVersion reduces an engine version banner to "major.minor.patch",
// or "unknown" when no such triple appears.
func SimplifyVersion(raw string) string {
	if v := versionPattern.FindString(raw); v != "" {
		return v
	}
	return "unknown"
}
