package config

import (
	"testing"

	"github.com/marcus/playbill/internal/models"
)

func TestLoadMissingReturnsDefault(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.RequireSignature {
		t.Error("default config should require signatures")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()

	want := &models.Config{
		MarketURL:        "http://127.0.0.1:8090",
		PackageName:      "com.example.app",
		RequireSignature: false,
	}
	if err := Save(dir, want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.MarketURL != want.MarketURL || got.PackageName != want.PackageName {
		t.Errorf("loaded config = %+v", got)
	}
	if got.RequireSignature {
		t.Error("RequireSignature should round-trip as false")
	}
}

func TestUpdate(t *testing.T) {
	dir := t.TempDir()

	err := Update(dir, func(cfg *models.Config) error {
		cfg.MarketURL = "http://localhost:9000"
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MarketURL != "http://localhost:9000" {
		t.Errorf("MarketURL = %q", cfg.MarketURL)
	}
}

func TestEnsureDeviceID(t *testing.T) {
	dir := t.TempDir()

	first, err := EnsureDeviceID(dir)
	if err != nil {
		t.Fatalf("EnsureDeviceID failed: %v", err)
	}
	if first == "" {
		t.Fatal("empty device id")
	}

	second, err := EnsureDeviceID(dir)
	if err != nil {
		t.Fatalf("EnsureDeviceID failed: %v", err)
	}
	if second != first {
		t.Errorf("device id changed: %q != %q", second, first)
	}
}
