package pipeline

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Workers; got != runtime.NumCPU() {
		t.Errorf("Workers = %d, want %d", got, runtime.NumCPU())
	}
	if got := cfg.ExtractionTimeout; got != 2*time.Minute {
		t.Errorf("ExtractionTimeout = %v, want 2m", got)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aedile.yaml")
	content := "workers: 3\nextraction_timeout: 90s\nocr_language: deu\nsymbol_library: symbole.yaml\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
	if cfg.ExtractionTimeout != 90*time.Second {
		t.Errorf("ExtractionTimeout = %v, want 90s", cfg.ExtractionTimeout)
	}
	if cfg.OCRLanguage != "deu" {
		t.Errorf("OCRLanguage = %q, want deu", cfg.OCRLanguage)
	}
	if cfg.SymbolLibrary != "symbole.yaml" {
		t.Errorf("SymbolLibrary = %q, want symbole.yaml", cfg.SymbolLibrary)
	}
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aedile.yaml")
	if err := os.WriteFile(path, []byte("ocr_language: deu+eng\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.OCRLanguage != "deu+eng" {
		t.Errorf("OCRLanguage = %q, want deu+eng", cfg.OCRLanguage)
	}
	if cfg.Workers != runtime.NumCPU() {
		t.Errorf("Workers = %d, want default %d", cfg.Workers, runtime.NumCPU())
	}
	if cfg.ExtractionTimeout != 2*time.Minute {
		t.Errorf("ExtractionTimeout = %v, want default 2m", cfg.ExtractionTimeout)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "fehlt.yaml")); err == nil {
		t.Error("LoadConfig() with missing file: error is nil")
	}

	path := filepath.Join(t.TempDir(), "kaputt.yaml")
	if err := os.WriteFile(path, []byte("workers: [oops\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() with invalid YAML: error is nil")
	}
}
