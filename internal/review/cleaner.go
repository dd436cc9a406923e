package review

import (
	"strings"
	"unicode"
)

// CleanOCRText keeps the lines of raw OCR output that mention a known app or
// look like a duration ("1h 30m", "45m", "2:15"). If nothing survives the raw
// text is returned unchanged.
func CleanOCRText(raw string, apps []string) string {
	if raw == "" {
		return ""
	}

	lowerApps := make([]string, 0, len(apps))
	for _, app := range apps {
		if app = strings.ToLower(strings.TrimSpace(app)); app != "" {
			lowerApps = append(lowerApps, app)
		}
	}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if mentionsApp(lower, lowerApps) || looksLikeDuration(lower) {
			kept = append(kept, line)
		}
	}

	if len(kept) == 0 {
		return raw
	}
	return strings.Join(kept, "\n")
}

func mentionsApp(line string, apps []string) bool {
	for _, app := range apps {
		if strings.Contains(line, app) {
			return true
		}
	}
	return false
}

func looksLikeDuration(line string) bool {
	return strings.ContainsAny(line, "hm:") && strings.IndexFunc(line, unicode.IsDigit) >= 0
}
