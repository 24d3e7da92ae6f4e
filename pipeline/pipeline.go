// Package pipeline runs document batches through format detection,
// extraction and merge. Files are processed in isolation inside a
// bounded worker pool: one malformed document, one oversized plan or
// one expired time budget fails that file alone, never the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tsawler/aedile/bim"
	"github.com/tsawler/aedile/doctext"
	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/format"
	"github.com/tsawler/aedile/merge"
	"github.com/tsawler/aedile/ocr"
	"github.com/tsawler/aedile/plan"
	"github.com/tsawler/aedile/tabular"
)

// Extractor turns one document into an extraction result. Extractors
// must be safe for concurrent use.
type Extractor interface {
	// Formats lists the document formats the extractor accepts.
	Formats() []format.Format
	// Extract parses the document into entities.
	Extract(ctx context.Context, doc *entity.Document) (*entity.Extraction, error)
}

// Store receives results as they are produced. Implementations persist
// them; the pipeline itself keeps projects in memory. Store errors are
// logged, they never fail a batch.
type Store interface {
	SaveExtraction(ctx context.Context, project string, ext *entity.Extraction) error
	SaveDataset(ctx context.Context, project string, ds *merge.Dataset) error
}

// Pipeline routes documents to the extractor for their format and folds
// the results into per-project datasets. Safe for concurrent use.
type Pipeline struct {
	log      *zap.SugaredLogger
	cfg      Config
	byFormat map[format.Format]Extractor
	merger   *merge.Engine
	store    Store

	mu       sync.Mutex
	projects map[string]*merge.Project
}

// Option adjusts a Pipeline beyond its configuration.
type Option func(*Pipeline)

// WithExtractor registers ext for every format it reports, replacing
// any stock registration for those formats.
func WithExtractor(ext Extractor) Option {
	return func(p *Pipeline) { p.register(ext) }
}

// WithStore attaches a persistence hook for extractions and datasets.
func WithStore(s Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// New creates a pipeline with the stock extractors registered. A nil
// logger disables logging.
func New(cfg Config, log *zap.SugaredLogger, opts ...Option) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	cfg.defaults()
	p := &Pipeline{
		log:      log.Named("pipeline"),
		cfg:      cfg,
		byFormat: make(map[format.Format]Extractor),
		merger:   merge.New(log),
		projects: make(map[string]*merge.Project),
	}
	for _, ext := range p.stockExtractors(log) {
		p.register(ext)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// stockExtractors builds the default extractor set. OCR trouble
// degrades the plan extractor instead of failing construction; scanned
// pages then carry warnings.
func (p *Pipeline) stockExtractors(log *zap.SugaredLogger) []Extractor {
	var planOpts []plan.Option
	if p.cfg.SymbolLibrary != "" {
		lib, err := plan.LoadLibrary(p.cfg.SymbolLibrary)
		if err != nil {
			p.log.Warnw("symbol library not loaded", "path", p.cfg.SymbolLibrary, "error", err)
		} else {
			planOpts = append(planOpts, plan.WithSymbols(lib))
		}
	}
	if p.cfg.OCRLanguage != "" {
		o := ocr.DefaultOptions()
		o.Language = p.cfg.OCRLanguage
		engine, err := ocr.NewEngine(o)
		if err != nil {
			p.log.Warnw("ocr engine unavailable", "language", p.cfg.OCRLanguage, "error", err)
		} else {
			planOpts = append(planOpts, plan.WithEngine(engine))
		}
	}
	return []Extractor{
		tabular.New(log),
		doctext.New(log),
		plan.New(log, planOpts...),
		bim.New(log),
	}
}

func (p *Pipeline) register(ext Extractor) {
	for _, f := range ext.Formats() {
		p.byFormat[f] = ext
	}
}

// Formats lists the formats a registered extractor handles.
func (p *Pipeline) Formats() []format.Format {
	out := make([]format.Format, 0, len(p.byFormat))
	for f := range p.byFormat {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExtractFile reads and extracts a single file.
func (p *Pipeline) ExtractFile(ctx context.Context, path string) (*entity.Extraction, error) {
	doc, err := entity.OpenDocument(path)
	if err != nil {
		return nil, err
	}
	return p.ExtractDocument(ctx, doc)
}

// ExtractDocument routes the document to the extractor for its detected
// format and runs it under the per-document time budget. Failures are
// wrapped in a FileError naming the document.
func (p *Pipeline) ExtractDocument(ctx context.Context, doc *entity.Document) (*entity.Extraction, error) {
	ext, err := p.extract(ctx, doc)
	if err != nil {
		return nil, &entity.FileError{File: doc.Name, Err: err}
	}
	return ext, nil
}

// extract runs detection, routing and the extractor itself. An expired
// budget surfaces as ErrExtractionTimeout; cancellation from the caller
// passes through unchanged.
func (p *Pipeline) extract(ctx context.Context, doc *entity.Document) (*entity.Extraction, error) {
	f, _, err := format.DetectDocument(doc)
	if err != nil {
		return nil, err
	}
	ex, ok := p.byFormat[f]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for %s", entity.ErrUnsupportedFormat, f)
	}

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, p.cfg.ExtractionTimeout)
	defer cancel()

	res, err := ex.Extract(runCtx, doc)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s", entity.ErrExtractionTimeout, p.cfg.ExtractionTimeout)
		}
		return nil, err
	}

	if verr := res.Validate(); verr != nil {
		// The merge buckets sourceless entities; here it is only noted.
		p.log.Warnw("source invariant violated", "file", doc.Name, "error", verr)
	}
	p.log.Infow("document extracted",
		"file", doc.Name,
		"format", f,
		"entities", res.EntityCount(),
		"warnings", len(res.Warnings),
		"elapsed", time.Since(start),
	)
	return res, nil
}

// FileResult is the outcome for one file of a batch.
type FileResult struct {
	File       string
	DocumentID string
	Status     string // merge.StatusProcessed or merge.StatusFailed
	Err        error  // set when Status is merge.StatusFailed
	Extraction *entity.Extraction
}

// Result is the outcome of a batch run. Files keeps input order.
type Result struct {
	BatchID string
	Project string
	Files   []FileResult
	Dataset *merge.Dataset
}

// Failed counts the files that did not process.
func (r *Result) Failed() int {
	n := 0
	for _, f := range r.Files {
		if f.Status == merge.StatusFailed {
			n++
		}
	}
	return n
}

type workItem struct {
	name string
	open func() (*entity.Document, error)
}

// ProcessFiles extracts the given files on the configured worker pool
// and merges the results into the project dataset. Cancelling ctx stops
// dispatching queued files; documents already being extracted finish
// within their time budget, and the merge is skipped.
func (p *Pipeline) ProcessFiles(ctx context.Context, project string, paths ...string) (*Result, error) {
	items := make([]workItem, len(paths))
	for i, path := range paths {
		path := path
		items[i] = workItem{
			name: filepath.Base(path),
			open: func() (*entity.Document, error) { return entity.OpenDocument(path) },
		}
	}
	return p.process(ctx, project, items)
}

// ProcessDocuments is ProcessFiles for documents already in memory.
func (p *Pipeline) ProcessDocuments(ctx context.Context, project string, docs ...*entity.Document) (*Result, error) {
	items := make([]workItem, len(docs))
	for i, doc := range docs {
		doc := doc
		items[i] = workItem{
			name: doc.Name,
			open: func() (*entity.Document, error) { return doc, nil },
		}
	}
	return p.process(ctx, project, items)
}

func (p *Pipeline) process(ctx context.Context, project string, items []workItem) (*Result, error) {
	res := &Result{
		BatchID: uuid.NewString(),
		Project: project,
		Files:   make([]FileResult, len(items)),
	}
	log := p.log.With("batch", res.BatchID, "project", project)
	log.Infow("batch started", "files", len(items))

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	dispatched := 0
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		i, item := i, item
		g.Go(func() error {
			res.Files[i] = p.processOne(ctx, project, item)
			return nil
		})
	}
	// Workers never fail the group; failures are per-file results.
	_ = g.Wait()

	for i := dispatched; i < len(items); i++ {
		res.Files[i] = FileResult{
			File:   items[i].name,
			Status: merge.StatusFailed,
			Err:    fmt.Errorf("not dispatched: %w", ctx.Err()),
		}
	}

	proj := p.projectFor(project)
	sctx := context.WithoutCancel(ctx)
	for i := range res.Files {
		fr := &res.Files[i]
		if fr.Extraction != nil {
			proj.Add(fr.Extraction)
			p.saveExtraction(sctx, project, fr.Extraction)
			continue
		}
		proj.AddFailure(fr.File, fr.DocumentID, fr.Err)
	}

	if err := ctx.Err(); err != nil {
		log.Warnw("batch cancelled", "dispatched", dispatched, "files", len(items))
		return res, err
	}

	ds, err := p.merger.Merge(ctx, proj)
	if err != nil {
		return res, fmt.Errorf("merging project %s: %w", project, err)
	}
	res.Dataset = ds
	p.saveDataset(sctx, project, ds)

	log.Infow("batch finished",
		"files", len(items),
		"failed", res.Failed(),
		"entities", ds.EntityCount(),
	)
	return res, nil
}

// processOne opens and extracts one document. Extraction runs detached
// from batch cancellation: once a file is underway it gets its full
// time budget even when the batch is being torn down.
func (p *Pipeline) processOne(ctx context.Context, project string, item workItem) FileResult {
	if err := ctx.Err(); err != nil {
		return FileResult{
			File:   item.name,
			Status: merge.StatusFailed,
			Err:    fmt.Errorf("not dispatched: %w", err),
		}
	}

	doc, err := item.open()
	if err != nil {
		p.log.Errorw("document not readable", "file", item.name, "error", err)
		return FileResult{File: item.name, Status: merge.StatusFailed, Err: err}
	}
	doc.Project = project

	ext, err := p.extract(context.WithoutCancel(ctx), doc)
	if err != nil {
		p.log.Errorw("extraction failed",
			"file", doc.Name, "kind", entity.ErrorKind(err), "error", err)
		return FileResult{File: doc.Name, DocumentID: doc.ID, Status: merge.StatusFailed, Err: err}
	}
	return FileResult{File: doc.Name, DocumentID: doc.ID, Status: merge.StatusProcessed, Extraction: ext}
}

// Merge folds extractions into the named project and rebuilds its
// dataset. Results collected by earlier batches for the same project
// are included; passing none remerges what is there.
func (p *Pipeline) Merge(ctx context.Context, project string, exts ...*entity.Extraction) (*merge.Dataset, error) {
	proj := p.projectFor(project)
	for _, ext := range exts {
		proj.Add(ext)
	}
	ds, err := p.merger.Merge(ctx, proj)
	if err != nil {
		return nil, err
	}
	p.saveDataset(context.WithoutCancel(ctx), project, ds)
	return ds, nil
}

// projectFor returns the accumulator for the named project, creating it
// on first use.
func (p *Pipeline) projectFor(name string) *merge.Project {
	p.mu.Lock()
	defer p.mu.Unlock()
	proj, ok := p.projects[name]
	if !ok {
		proj = merge.NewProject(name, "")
		p.projects[name] = proj
	}
	return proj
}

func (p *Pipeline) saveExtraction(ctx context.Context, project string, ext *entity.Extraction) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveExtraction(ctx, project, ext); err != nil {
		p.log.Errorw("extraction not stored", "project", project, "file", ext.File, "error", err)
	}
}

func (p *Pipeline) saveDataset(ctx context.Context, project string, ds *merge.Dataset) {
	if p.store == nil {
		return
	}
	if err := p.store.SaveDataset(ctx, project, ds); err != nil {
		p.log.Errorw("dataset not stored", "project", project, "error", err)
	}
}
