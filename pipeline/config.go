package pipeline

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls how a batch is processed. The zero value is usable;
// New fills unset fields from DefaultConfig.
type Config struct {
	// Workers bounds the number of documents extracted concurrently.
	// Zero or negative means one worker per CPU.
	Workers int `yaml:"workers"`

	// ExtractionTimeout is the time budget for one document. A document
	// exceeding it fails with ErrExtractionTimeout while the rest of
	// the batch continues. Zero means two minutes.
	ExtractionTimeout time.Duration `yaml:"extraction_timeout"`

	// OCRLanguage selects the recognition models for scanned pages,
	// e.g. "deu" or "deu+eng". Empty keeps the engine default.
	OCRLanguage string `yaml:"ocr_language"`

	// SymbolLibrary is the path of a YAML symbol library that replaces
	// the built-in plan symbols. Empty keeps the built-in set.
	SymbolLibrary string `yaml:"symbol_library"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Workers:           runtime.NumCPU(),
		ExtractionTimeout: 2 * time.Minute,
	}
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.ExtractionTimeout <= 0 {
		c.ExtractionTimeout = 2 * time.Minute
	}
}

// LoadConfig reads a YAML configuration file. Fields absent from the
// file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.defaults()
	return cfg, nil
}
