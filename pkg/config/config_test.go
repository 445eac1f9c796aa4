package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Projection.Slices != 1 {
		t.Errorf("Expected default slice count 1, got %d", cfg.Projection.Slices)
	}
	if cfg.Output.SubvolumeDir != "3D_subvolumes" || cfg.Output.ProjectionDir != "2D_projections" {
		t.Errorf("Unexpected default output directories: %q, %q", cfg.Output.SubvolumeDir, cfg.Output.ProjectionDir)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Extraction.BoxSize != DefaultConfig().Extraction.BoxSize {
		t.Error("Missing config file should yield defaults")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Extraction.BoxSize = 48
	cfg.Extraction.ParticleID = "ribosome"
	cfg.Projection.Slices = 5
	cfg.Projection.Enabled = true
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Extraction.BoxSize != 48 || loaded.Extraction.ParticleID != "ribosome" {
		t.Errorf("Extraction settings not preserved: %+v", loaded.Extraction)
	}
	if loaded.Projection.Slices != 5 || !loaded.Projection.Enabled {
		t.Errorf("Projection settings not preserved: %+v", loaded.Projection)
	}
}
