// Package suggestions maintains the app-name dictionary reviewers get as
// autocomplete. It is stored as {"apps": [...]} in a JSON file and only ever
// grows; names are de-duplicated case-insensitively.
package suggestions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	"annotator/internal/logger"
)

// DefaultApps seeds the dictionary when the file does not exist yet.
var DefaultApps = []string{
	"Facebook",
	"Instagram",
	"Twitter",
	"YouTube",
	"TikTok",
	"WhatsApp",
	"Snapchat",
	"Netflix",
	"Spotify",
	"Google Chrome",
}

const (
	minQueryLength = 2
	maxResults     = 10
	cutset         = `.;:"'`
)

// rejection is never learned as an app name.
const rejection = "Rejected: Text is illegible or not relevant."

type file struct {
	Apps []string `json:"apps"`
}

// Store reads and writes the suggestion file. It is safe for concurrent use
// within one process.
type Store struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

func New(path string) *Store {
	return &Store{path: path, log: logger.WithComponent("suggestions")}
}

// Load returns the current list, or DefaultApps if the file is missing.
func (s *Store) Load() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return append([]string(nil), DefaultApps...), nil
	}
	if err != nil {
		return nil, fmt.Errorf("suggestions: read %s: %w", s.path, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("suggestions: parse %s: %w", s.path, err)
	}
	return f.Apps, nil
}

// save replaces the file through a temp file and rename.
func (s *Store) save(apps []string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("suggestions: create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(file{Apps: apps}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".suggestions-*.json")
	if err != nil {
		return fmt.Errorf("suggestions: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("suggestions: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("suggestions: write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("suggestions: replace %s: %w", s.path, err)
	}
	return nil
}

// Add appends names that are not already present (ignoring case) and returns
// the ones actually added.
func (s *Store) Add(names ...string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	apps, err := s.load()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(apps))
	for _, app := range apps {
		seen[strings.ToLower(app)] = struct{}{}
	}

	var added []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		added = append(added, name)
	}
	if len(added) == 0 {
		return nil, nil
	}

	if err := s.save(append(apps, added...)); err != nil {
		return nil, err
	}
	s.log.Debug().Strs("added", added).Msg("App suggestions updated")
	return added, nil
}

// Learn adds the candidate app names found in a corrected text.
func (s *Store) Learn(correctedText string) ([]string, error) {
	candidates := Candidates(correctedText)
	if len(candidates) == 0 {
		return nil, nil
	}
	return s.Add(candidates...)
}

// Search returns up to 10 names containing query, ignoring case. Queries
// shorter than two characters match nothing.
func (s *Store) Search(query string) ([]string, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if len(query) < minQueryLength {
		return nil, nil
	}

	apps, err := s.Load()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, app := range apps {
		if strings.Contains(strings.ToLower(app), query) {
			out = append(out, app)
			if len(out) == maxResults {
				break
			}
		}
	}
	return out, nil
}

// Candidates extracts possible app names from a corrected text: the part of
// each line before the first comma (or the whole line), stripped of
// punctuation and capitalized. Names of two characters or fewer, names
// without a letter and "Down by"/"Up by" trend lines are skipped.
func Candidates(text string) []string {
	if strings.TrimSpace(text) == rejection {
		return nil
	}

	var out []string
	seen := map[string]struct{}{}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, _, _ := strings.Cut(line, ",")
		name = capitalize(strings.Trim(name, cutset))

		if len([]rune(name)) <= 2 || !hasLetter(name) {
			continue
		}
		if strings.HasPrefix(name, "Down by") || strings.HasPrefix(name, "Up by") {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return s
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
