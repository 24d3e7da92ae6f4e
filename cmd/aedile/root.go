package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tsawler/aedile"
	"github.com/tsawler/aedile/pipeline"
)

var (
	flagConfig  string
	flagWorkers int
	flagTimeout time.Duration
	flagLang    string
	flagSymbols string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "aedile",
	Short: "Extract building data from construction project documents",
	Long: `aedile reads construction project documents (spreadsheets, text
documents, PDF plans, scans and IFC models), extracts rooms, plants,
devices, requirements, schedule entries and service positions, and
merges everything into one canonical dataset per project.

Every value in the dataset keeps a reference to the file and location
it came from; when documents disagree, all variants are recorded.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	pf.IntVar(&flagWorkers, "workers", 0, "concurrent extractions (default: number of CPUs)")
	pf.DurationVar(&flagTimeout, "timeout", 0, "per-document extraction budget (default: 2m)")
	pf.StringVar(&flagLang, "lang", "", "OCR language models, e.g. deu+eng")
	pf.StringVar(&flagSymbols, "symbols", "", "YAML plan symbol library")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
}

// buildPipeline assembles the pipeline from the config file and flags.
// Flags win over the file.
func buildPipeline() (*aedile.Pipeline, *zap.SugaredLogger, error) {
	cfg := pipeline.DefaultConfig()
	if flagConfig != "" {
		var err error
		cfg, err = pipeline.LoadConfig(flagConfig)
		if err != nil {
			return nil, nil, err
		}
	}
	if flagWorkers > 0 {
		cfg.Workers = flagWorkers
	}
	if flagTimeout > 0 {
		cfg.ExtractionTimeout = flagTimeout
	}
	if flagLang != "" {
		cfg.OCRLanguage = flagLang
	}
	if flagSymbols != "" {
		cfg.SymbolLibrary = flagSymbols
	}

	log, err := buildLogger()
	if err != nil {
		return nil, nil, err
	}
	return aedile.New(aedile.WithConfig(cfg), aedile.WithLogger(log)), log, nil
}

func buildLogger() (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if flagVerbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return l.Sugar(), nil
}

// writeJSON writes v indented to path, or to stdout when path is empty.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
