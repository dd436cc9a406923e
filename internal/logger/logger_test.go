package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetupWritesJSONToFile(t *testing.T) {
	prev := log.Logger
	prevLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "app.log")
	cfg := LogConfig{Level: "debug", Format: "json", TimeFormat: "2006-01-02T15:04:05Z07:00", Output: path}
	if err := Setup(cfg); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	l := WithRunID("processor", "run-1")
	l.Info().Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{`"component":"processor"`, `"run_id":"run-1"`, `"message":"hello"`} {
		if !strings.Contains(got, want) {
			t.Errorf("log output %q missing %s", got, want)
		}
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if err := Setup(LogConfig{Level: "loud", Output: "stderr"}); err == nil {
		t.Fatal("Setup() accepted an unknown level")
	}
}
