package logging

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesJSONFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	logger, closer, err := New(dir, "info")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("task claimed", "task_id", 7)
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(dir, FileName))
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("line is not JSON: %q", sc.Text())
		}
		lines = append(lines, entry)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (debug filtered out)", len(lines))
	}
	if lines[0]["msg"] != "task claimed" || lines[0]["task_id"] != float64(7) {
		t.Errorf("entry = %v", lines[0])
	}
}

func TestNewStderr(t *testing.T) {
	logger, closer, err := New("", "debug")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger == nil {
		t.Fatal("nil logger")
	}
	if err := closer.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
