// Package aedile extracts structured building data from heterogeneous
// construction project documents and merges it into one canonical
// dataset per project.
//
// Supported inputs are workbook and CSV lists (room books, device and
// plant schedules, bills of quantities), Word and OpenDocument text
// (specifications, meeting minutes), PDF plans and raster scans
// (legends, stamps, plan symbols, with OCR when enabled) and IFC
// building models. Every extracted value keeps a reference to the file
// and location it came from; when documents disagree, the dataset
// records all variants instead of picking a winner.
//
// Basic usage:
//
//	a := aedile.New()
//	res, err := a.ProcessFiles(ctx, "Projekt Nord",
//	    "raumbuch.xlsx", "geraeteliste.csv", "modell.ifc")
//	if err != nil {
//	    // handle error
//	}
//	data, _ := json.MarshalIndent(res.Dataset, "", "  ")
//
// Single documents:
//
//	ext, err := a.ExtractFile(ctx, "raumbuch.xlsx")
//
// For lower-level control the pipeline, merge and per-format extractor
// packages are available directly.
package aedile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/merge"
	"github.com/tsawler/aedile/pipeline"
)

// Pipeline is the top-level processing engine.
type Pipeline = pipeline.Pipeline

// Config controls worker count, time budgets and OCR settings.
type Config = pipeline.Config

// Result is the outcome of one processed batch.
type Result = pipeline.Result

// Dataset is the canonical merged dataset of a project.
type Dataset = merge.Dataset

// Document is a project file loaded into memory.
type Document = entity.Document

// Extraction is the result of extracting one document.
type Extraction = entity.Extraction

type options struct {
	cfg  Config
	log  *zap.SugaredLogger
	pipe []pipeline.Option
}

// Option configures New.
type Option func(*options)

// WithConfig replaces the whole configuration, as loaded from a file
// via pipeline.LoadConfig or built by hand.
func WithConfig(cfg Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithLogger attaches a logger. Without one the pipeline is silent.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *options) { o.log = log }
}

// WithWorkers bounds the number of documents extracted concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.cfg.Workers = n }
}

// WithTimeout sets the per-document extraction budget.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.cfg.ExtractionTimeout = d }
}

// WithOCRLanguage selects the recognition models for scanned pages,
// e.g. "deu" or "deu+eng".
func WithOCRLanguage(lang string) Option {
	return func(o *options) { o.cfg.OCRLanguage = lang }
}

// WithSymbolLibrary replaces the built-in plan symbol library with one
// loaded from a YAML file.
func WithSymbolLibrary(path string) Option {
	return func(o *options) { o.cfg.SymbolLibrary = path }
}

// WithStore attaches persistence for extractions and datasets.
func WithStore(s pipeline.Store) Option {
	return func(o *options) { o.pipe = append(o.pipe, pipeline.WithStore(s)) }
}

// WithExtractor registers a custom extractor, replacing the stock one
// for the formats it reports.
func WithExtractor(ext pipeline.Extractor) Option {
	return func(o *options) { o.pipe = append(o.pipe, pipeline.WithExtractor(ext)) }
}

// New creates a processing pipeline.
//
// Example:
//
//	a := aedile.New(
//	    aedile.WithWorkers(4),
//	    aedile.WithOCRLanguage("deu"),
//	)
func New(opts ...Option) *Pipeline {
	o := options{cfg: pipeline.DefaultConfig()}
	for _, opt := range opts {
		opt(&o)
	}
	return pipeline.New(o.cfg, o.log, o.pipe...)
}

// ExtractFile extracts a single file with a default pipeline.
//
// Example:
//
//	ext, err := aedile.ExtractFile(ctx, "raumbuch.xlsx")
func ExtractFile(ctx context.Context, path string) (*Extraction, error) {
	return New().ExtractFile(ctx, path)
}

// ProcessFiles runs a batch through a default pipeline and returns the
// per-file outcomes together with the merged project dataset.
//
// Example:
//
//	res, err := aedile.ProcessFiles(ctx, "Projekt Nord", files...)
func ProcessFiles(ctx context.Context, project string, paths ...string) (*Result, error) {
	return New().ProcessFiles(ctx, project, paths...)
}

// Must is a helper that wraps a call to a function returning (T, error)
// and panics if the error is non-nil. It is intended for use in scripts
// or tests where error handling would be cumbersome.
//
// Example:
//
//	ext := aedile.Must(aedile.ExtractFile(ctx, "raumbuch.xlsx"))
func Must[T any](val T, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}
