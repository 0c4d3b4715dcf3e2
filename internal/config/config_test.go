package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load on missing file returned error: %v", err)
	}
	want := DefaultConfig()
	if cfg.Window.RetransmitterKind != want.Window.RetransmitterKind {
		t.Errorf("RetransmitterKind = %q, want %q", cfg.Window.RetransmitterKind, want.Window.RetransmitterKind)
	}
	if cfg.Metrics.Port != want.Metrics.Port {
		t.Errorf("Metrics.Port = %d, want %d", cfg.Metrics.Port, want.Metrics.Port)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
Window:
  RetransmitterKind: range_based
  SchedulerWorkers: 8
Log:
  Level: debug
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Window.RetransmitterKind != "range_based" {
		t.Errorf("RetransmitterKind = %q, want range_based", cfg.Window.RetransmitterKind)
	}
	if cfg.Window.SchedulerWorkers != 8 {
		t.Errorf("SchedulerWorkers = %d, want 8", cfg.Window.SchedulerWorkers)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	// untouched section should keep its default
	if cfg.Metrics.Port != DefaultConfig().Metrics.Port {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultConfig().Metrics.Port)
	}
}
