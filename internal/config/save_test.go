package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Loop.LoopTimeout = Duration(2 * time.Hour)
	cfg.Runner.SerializeWorkDirs = true
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Loop.LoopTimeout.D() != 2*time.Hour {
		t.Errorf("loop timeout = %v", loaded.Loop.LoopTimeout.D())
	}
	if !loaded.Runner.SerializeWorkDirs {
		t.Error("serialize_work_dirs lost")
	}
}
