// Package plan extracts spaces, plants and devices from building plans.
// Vector drawings are read straight from the PDF page content streams;
// scanned pages and standalone raster images go through the OCR subsystem.
// Room labels and area annotations are matched by pattern, equipment
// annotations against a configurable symbol library, and every hit is
// associated with the nearest room label on its page.
package plan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/format"
	"github.com/tsawler/aedile/ocr"
	"github.com/tsawler/aedile/tabular"
)

// Candidate is a prospective plant or device recognized on a page.
type Candidate struct {
	// Kind is "geraet" or "anlage".
	Kind string
	// Symbol is the recognized symbol's key, e.g. "ventilator".
	Symbol string
	// Display names anonymous hits, e.g. "Ventilator".
	Display string
	// Token is the matched text, used as the entity name when it
	// carries a tag number.
	Token string
	// Number is the tag number, empty for anonymous hits.
	Number string
	// Pos anchors the hit for nearest-room association.
	Pos entity.Point
	// Region is the hit's bounding box when known.
	Region *entity.BBox
	// Confidence is the combined recognition confidence, 0..1.
	Confidence float64
}

// Recognizer turns the positioned text of one page into entity candidates.
// The built-in recognizer matches the symbol library; additional
// strategies plug in via WithRecognizer.
type Recognizer interface {
	Recognize(page int, spans []TextSpan) []Candidate
}

// libraryRecognizer matches the symbol library against span text.
type libraryRecognizer struct {
	lib *Library
}

func (r libraryRecognizer) Recognize(page int, spans []TextSpan) []Candidate {
	var out []Candidate
	for _, sp := range spans {
		for _, hit := range r.lib.match(sp.Text) {
			out = append(out, Candidate{
				Kind:       hit.symbol.Kind,
				Symbol:     hit.symbol.Name,
				Display:    hit.symbol.Display,
				Token:      hit.token,
				Number:     hit.number,
				Pos:        sp.Pos,
				Region:     sp.Region,
				Confidence: hit.symbol.Confidence * sp.Confidence,
			})
		}
	}
	return out
}

// Extractor turns plans and scans into building entities.
type Extractor struct {
	log         *zap.SugaredLogger
	symbols     *Library
	engine      ocr.Engine
	recognizers []Recognizer
	tabular     *tabular.Extractor
}

// Option configures the extractor.
type Option func(*Extractor)

// WithSymbols replaces the built-in symbol library.
func WithSymbols(lib *Library) Option {
	return func(e *Extractor) {
		if lib != nil {
			e.symbols = lib
		}
	}
}

// WithEngine sets the OCR engine used for scanned pages. Without one,
// and without OCR support compiled in, scanned pages produce warnings.
func WithEngine(engine ocr.Engine) Option {
	return func(e *Extractor) { e.engine = engine }
}

// WithRecognizer registers an additional recognition strategy. It runs
// after the symbol library on every page.
func WithRecognizer(r Recognizer) Option {
	return func(e *Extractor) {
		if r != nil {
			e.recognizers = append(e.recognizers, r)
		}
	}
}

// New creates a plan extractor. A nil logger disables logging.
func New(log *zap.SugaredLogger, opts ...Option) *Extractor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	e := &Extractor{
		log:     log.Named("plan"),
		symbols: DefaultLibrary(),
		tabular: tabular.New(log),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.engine == nil {
		engine, err := ocr.NewEngine(ocr.DefaultOptions())
		if err != nil {
			e.log.Debugw("ocr engine unavailable", "error", err)
		} else {
			e.engine = engine
		}
	}
	e.recognizers = append([]Recognizer{libraryRecognizer{lib: e.symbols}}, e.recognizers...)
	return e
}

// Formats lists the document formats this extractor accepts.
func (e *Extractor) Formats() []format.Format {
	return []format.Format{format.PDF, format.Image}
}

// Extract parses the document and extracts entities from all its pages.
// Failures on individual pages become warnings; only an unreadable
// document or a cancelled context abort the extraction.
func (e *Extractor) Extract(ctx context.Context, doc *entity.Document) (*entity.Extraction, error) {
	f, mismatch, err := format.DetectDocument(doc)
	if err != nil {
		return nil, err
	}

	switch f {
	case format.PDF:
		return e.extractPDF(ctx, doc, f, mismatch)
	case format.Image:
		return e.extractImage(ctx, doc, f, mismatch)
	default:
		return nil, fmt.Errorf("%w: %s is %s, not a plan or scan", entity.ErrUnsupportedFormat, doc.Name, f)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, doc *entity.Document, f format.Format, mismatch bool) (*entity.Extraction, error) {
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(doc.Data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedDocument, err)
	}

	ext := entity.NewExtraction(doc, f.String())
	if mismatch {
		ext.Warn(entity.WarnFormatMismatch,
			fmt.Sprintf("Dateiendung von %s passt nicht zum Inhalt (%s)", doc.Name, f), nil)
	}
	ext.Metadata.IsPlan = true
	ext.Metadata.Pages = pctx.PageCount
	ext.Metadata.Discipline = format.Discipline(doc.Name)
	ext.Metadata.Revision = format.Revision(doc.Name)

	col := newCollector(e, ext, doc)
	for page := 1; page <= pctx.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := e.extractPage(ctx, col, pctx, page); err != nil {
			return nil, err
		}
	}

	e.log.Debugw("plan extracted",
		"file", doc.Name,
		"pages", pctx.PageCount,
		"spaces", len(ext.Spaces),
		"plants", len(ext.Plants),
		"devices", len(ext.Devices),
		"warnings", len(ext.Warnings))
	return ext, nil
}

func (e *Extractor) extractImage(ctx context.Context, doc *entity.Document, f format.Format, mismatch bool) (*entity.Extraction, error) {
	ext := entity.NewExtraction(doc, f.String())
	if mismatch {
		ext.Warn(entity.WarnFormatMismatch,
			fmt.Sprintf("Dateiendung von %s passt nicht zum Inhalt (%s)", doc.Name, f), nil)
	}
	ext.Metadata.IsPlan = format.IsPlan(doc.Name)
	ext.Metadata.Pages = 1
	ext.Metadata.Discipline = format.Discipline(doc.Name)
	ext.Metadata.Revision = format.Revision(doc.Name)

	if e.engine == nil {
		src := doc.Ref(entity.SourceOCR)
		src.Page = 1
		ext.Warn(entity.WarnOCRUnavailable, "Texterkennung nicht verfügbar, Scan übersprungen", &src)
		return ext, nil
	}

	res, err := e.engine.Recognize(ctx, doc.Data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: Texterkennung: %v", entity.ErrMalformedDocument, err)
	}

	col := newCollector(e, ext, doc)
	spans := ocrSpans(res)
	if len(spans) == 0 {
		col.pageFailed(1, "keine verwertbaren Texte erkannt")
		return ext, nil
	}
	e.analyzePage(col, 1, spans, entity.SourceOCR)
	e.extractRows(col, 1, res.Rows())

	e.log.Debugw("scan extracted",
		"file", doc.Name,
		"spaces", len(ext.Spaces),
		"plants", len(ext.Plants),
		"devices", len(ext.Devices),
		"warnings", len(ext.Warnings))
	return ext, nil
}

// extractPage processes one PDF page. Page-level failures are recorded as
// warnings so one broken page never costs the rest of the document; the
// returned error is reserved for context cancellation.
func (e *Extractor) extractPage(ctx context.Context, col *collector, pctx *model.Context, page int) error {
	content, err := readPageContent(pctx, page)
	if err != nil {
		col.pageFailed(page, fmt.Sprintf("Seiteninhalt nicht lesbar: %v", err))
		return nil
	}
	spans, err := parseContent(content)
	if err != nil {
		col.pageFailed(page, fmt.Sprintf("Seiteninhalt nicht lesbar: %v", err))
		return nil
	}
	if len(spans) > 0 {
		e.analyzePage(col, page, spans, entity.SourceText)
		return nil
	}
	return e.scanPage(ctx, col, pctx, page)
}

// scanPage runs OCR over the raster images of a page that carries no
// vector text. Recognized lines re-enter the same label and symbol logic
// as vector text; recognized table rows additionally go through the
// shared tabular column mapping.
func (e *Extractor) scanPage(ctx context.Context, col *collector, pctx *model.Context, page int) error {
	if len(pdfcpu.ImageObjNrs(pctx, page)) == 0 {
		col.pageFailed(page, "weder Text noch Bilddaten")
		return nil
	}
	if e.engine == nil {
		src := col.pageRef(page, entity.SourceOCR)
		col.ext.Warn(entity.WarnOCRUnavailable,
			fmt.Sprintf("Seite %d ist gescannt, Texterkennung nicht verfügbar", page), &src)
		return nil
	}

	images, err := pageImages(pctx, page)
	if err != nil {
		col.pageFailed(page, fmt.Sprintf("Bilddaten nicht lesbar: %v", err))
		return nil
	}
	if len(images) == 0 {
		col.pageFailed(page, "Bilddaten nicht extrahierbar")
		return nil
	}

	var spans []TextSpan
	var rows [][]string
	failed := false
	for _, img := range images {
		res, err := e.engine.Recognize(ctx, img)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			col.pageFailed(page, fmt.Sprintf("Texterkennung fehlgeschlagen: %v", err))
			failed = true
			continue
		}
		spans = append(spans, ocrSpans(res)...)
		rows = append(rows, res.Rows()...)
	}
	if len(spans) == 0 {
		if !failed {
			col.pageFailed(page, "keine verwertbaren Texte erkannt")
		}
		return nil
	}

	e.analyzePage(col, page, spans, entity.SourceOCR)
	e.extractRows(col, page, rows)
	return nil
}

// analyzePage runs label and symbol recognition over one page's spans.
// Room labels are collected first so areas and equipment can attach to
// the nearest one.
func (e *Extractor) analyzePage(col *collector, page int, spans []TextSpan, kind string) {
	labels := col.collectRooms(page, spans, kind)
	col.collectAreas(page, spans, kind, labels)

	var cands []Candidate
	for _, r := range e.recognizers {
		cands = append(cands, r.Recognize(page, spans)...)
	}
	col.placeCandidates(page, cands, labels)
}

// extractRows routes OCR table rows through the shared tabular column
// mapping, so a scanned room book still yields fully mapped entities.
func (e *Extractor) extractRows(col *collector, page int, rows [][]string) {
	if len(rows) < 2 {
		return
	}
	doc := col.doc
	e.tabular.ExtractGrid(col.ext, tabular.Grid{
		Rows: rows,
		Ref: func(row, _ int) entity.SourceRef {
			ref := doc.Ref(entity.SourceOCR)
			ref.Page = page
			ref.Row = row + 1
			return ref
		},
	})
}

func readPageContent(pctx *model.Context, page int) ([]byte, error) {
	r, err := pdfcpu.ExtractPageContent(pctx, page)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	return io.ReadAll(r)
}

// pageImages extracts the raster images of one page in object number
// order, so repeated runs see them in a stable sequence.
func pageImages(pctx *model.Context, page int) ([][]byte, error) {
	imgs, err := pdfcpu.ExtractPageImages(pctx, page, false)
	if err != nil {
		return nil, err
	}
	objNrs := make([]int, 0, len(imgs))
	for nr := range imgs {
		objNrs = append(objNrs, nr)
	}
	sort.Ints(objNrs)

	var out [][]byte
	for _, nr := range objNrs {
		data, err := io.ReadAll(imgs[nr])
		if err != nil || len(data) == 0 {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

// ocrSpans converts recognized lines into positioned spans. The line's
// center anchors nearest-room association, its box becomes the source
// region.
func ocrSpans(res *ocr.Result) []TextSpan {
	spans := make([]TextSpan, 0, len(res.Lines))
	for _, line := range res.Lines {
		box := line.Box
		spans = append(spans, TextSpan{
			Text:       line.Text(),
			Pos:        box.Center(),
			Confidence: line.Confidence(),
			Region:     &box,
		})
	}
	return spans
}

func floatEq(a, b float64) bool { return math.Abs(a-b) < 0.01 }

// collector accumulates entities across the pages of one document,
// deduplicating rooms and tagged equipment by identity.
type collector struct {
	ext       *entity.Extraction
	doc       *entity.Document
	threshold float64

	spaces  map[string]*entity.Space
	plants  map[string]*entity.Plant
	devices map[string]*entity.Device
	anon    map[string]int
}

func newCollector(e *Extractor, ext *entity.Extraction, doc *entity.Document) *collector {
	return &collector{
		ext:       ext,
		doc:       doc,
		threshold: e.symbols.Threshold,
		spaces:    make(map[string]*entity.Space),
		plants:    make(map[string]*entity.Plant),
		devices:   make(map[string]*entity.Device),
		anon:      make(map[string]int),
	}
}

func (c *collector) pageRef(page int, kind string) entity.SourceRef {
	src := c.doc.Ref(kind)
	src.Page = page
	return src
}

func (c *collector) pageFailed(page int, msg string) {
	src := c.pageRef(page, "")
	c.ext.Warn(entity.WarnPageFailed, fmt.Sprintf("Seite %d: %s", page, msg), &src)
}

// collectRooms records every room label on the page and returns them with
// their positions. Room numbers repeat across spans and pages; each one
// becomes a single space accumulating sources.
func (c *collector) collectRooms(page int, spans []TextSpan, kind string) []roomLabel {
	var labels []roomLabel
	for _, sp := range spans {
		areas := findAreas(sp.Text)
		for _, nr := range findRooms(sp.Text, areas) {
			src := c.pageRef(page, kind)
			src.Region = sp.Region
			src.AddField("nummer")
			c.space(nr, src)
			labels = append(labels, roomLabel{number: nr, pos: sp.Pos})
		}
	}
	return labels
}

// collectAreas attaches area annotations to the nearest room label on the
// page. Disagreeing observations for the same room are kept as variants
// by the fold; an area with no label anywhere on the page is reported.
func (c *collector) collectAreas(page int, spans []TextSpan, kind string, labels []roomLabel) {
	for _, sp := range spans {
		for _, a := range findAreas(sp.Text) {
			src := c.pageRef(page, kind)
			src.Region = sp.Region
			src.AddField("flaeche_m2")

			l, ok := nearestLabel(labels, sp.Pos)
			if !ok {
				c.ext.Warn(entity.WarnLowConfidence,
					fmt.Sprintf("Fläche %v m² auf Seite %d keinem Raum zugeordnet", a.value, page), &src)
				continue
			}
			if s := c.spaces[entity.SpaceID(l.number)]; s != nil {
				s.AreaM2.Fold(a.value, src, floatEq)
			}
		}
	}
}

// placeCandidates turns recognized symbols into devices and plants, each
// associated with the nearest room label. A page showing exactly one
// plant implicitly feeds every device on it: the devices join the plant
// and the plant serves their rooms.
func (c *collector) placeCandidates(page int, cands []Candidate, labels []roomLabel) {
	var pagePlants []*entity.Plant
	var pageDevices []*entity.Device
	var deviceRooms []string
	seenPlants := make(map[string]bool)

	for _, cd := range cands {
		src := c.pageRef(page, entity.SourceSymbol)
		src.Region = cd.Region
		src.AddField("name")
		src.AddField("typ")

		room := ""
		if l, ok := nearestLabel(labels, cd.Pos); ok {
			room = l.number
		}

		switch cd.Kind {
		case kindPlant:
			p := c.plant(page, cd, src, room)
			if !seenPlants[p.ID] {
				seenPlants[p.ID] = true
				pagePlants = append(pagePlants, p)
			}
		default:
			d := c.device(page, cd, src, room)
			pageDevices = append(pageDevices, d)
			if room != "" {
				deviceRooms = append(deviceRooms, room)
			}
		}
	}

	if len(pagePlants) == 1 && len(pageDevices) > 0 {
		p := pagePlants[0]
		pn, _ := p.Name.Get()
		for _, d := range pageDevices {
			if dn, ok := d.Name.Get(); ok {
				p.Devices = entity.UnionStrings(p.Devices, []string{dn})
			}
			if _, ok := d.Plant.Get(); !ok && pn != "" {
				d.Plant = entity.Resolved(pn)
			}
		}
		p.Spaces = entity.UnionStrings(p.Spaces, deviceRooms)
	}
}

func (c *collector) space(number string, src entity.SourceRef) *entity.Space {
	id := entity.SpaceID(number)
	if s, ok := c.spaces[id]; ok {
		s.AddSource(src)
		return s
	}
	s := &entity.Space{
		ID:     id,
		Number: entity.Resolved(number),
	}
	s.AddSource(src)
	c.spaces[id] = s
	c.ext.Spaces = append(c.ext.Spaces, s)
	return s
}

// device records a device hit. Tagged hits keep their tag as the name so
// the same device merges across documents; anonymous hits are numbered
// per symbol and page.
func (c *collector) device(page int, cd Candidate, src entity.SourceRef, room string) *entity.Device {
	name := cd.Token
	if cd.Number == "" {
		key := fmt.Sprintf("%s/%d", cd.Symbol, page)
		c.anon[key]++
		name = fmt.Sprintf("%s %d.%d", cd.Display, page, c.anon[key])
	}
	id := entity.DeviceID(name)
	if d, ok := c.devices[id]; ok {
		d.AddSource(src)
		return d
	}
	d := &entity.Device{
		ID:          id,
		Name:        entity.Resolved(name),
		Kind:        entity.Resolved(cd.Symbol),
		Unconfirmed: cd.Confidence < c.threshold,
	}
	if room != "" {
		d.Space = entity.Resolved(room)
	}
	d.AddSource(src)
	c.devices[id] = d
	c.ext.Devices = append(c.ext.Devices, d)
	return d
}

func (c *collector) plant(page int, cd Candidate, src entity.SourceRef, room string) *entity.Plant {
	name := cd.Token
	if cd.Number == "" {
		key := fmt.Sprintf("%s/%d", cd.Symbol, page)
		c.anon[key]++
		name = fmt.Sprintf("%s %d.%d", cd.Display, page, c.anon[key])
	}
	id := entity.PlantID(name)
	p, ok := c.plants[id]
	if !ok {
		p = &entity.Plant{
			ID:          id,
			Name:        entity.Resolved(name),
			Kind:        entity.Resolved(cd.Symbol),
			Unconfirmed: cd.Confidence < c.threshold,
		}
		c.plants[id] = p
		c.ext.Plants = append(c.ext.Plants, p)
	}
	p.AddSource(src)
	if room != "" {
		p.Spaces = entity.UnionStrings(p.Spaces, []string{room})
	}
	return p
}
