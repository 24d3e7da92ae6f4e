// Package doctext extracts building entities from word-processing
// documents. It walks the heading hierarchy into a section context,
// detects and classifies requirement sentences, turns list items in
// requirement sections into requirements, and routes document tables
// through the shared tabular column mapping.
package doctext

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tsawler/aedile/docx"
	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/format"
	"github.com/tsawler/aedile/odt"
	"github.com/tsawler/aedile/tabular"
)

// block is the format-neutral view over docx and odt body elements.
// Exactly one field is set.
type block struct {
	para  *paragraph
	table *table
}

type paragraph struct {
	text     string
	heading  bool
	level    int
	listItem bool
}

type table struct {
	name  string
	cells [][]string
}

// Extractor turns word-processing documents into building entities.
type Extractor struct {
	log     *zap.SugaredLogger
	tabular *tabular.Extractor
}

// New creates a document-text extractor. A nil logger disables logging.
func New(log *zap.SugaredLogger) *Extractor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Extractor{
		log:     log.Named("doctext"),
		tabular: tabular.New(log),
	}
}

// Formats lists the document formats this extractor accepts.
func (e *Extractor) Formats() []format.Format {
	return []format.Format{format.DOCX, format.ODT}
}

// Extract parses the document and extracts requirements, full text and
// table entities.
func (e *Extractor) Extract(ctx context.Context, doc *entity.Document) (*entity.Extraction, error) {
	f, mismatch, err := format.DetectDocument(doc)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var blocks []block
	switch f {
	case format.DOCX:
		d, err := docx.Parse(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", entity.ErrMalformedDocument, err)
		}
		blocks = fromDOCX(d)
	case format.ODT:
		d, err := odt.Parse(doc.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", entity.ErrMalformedDocument, err)
		}
		blocks = fromODT(d)
	default:
		return nil, fmt.Errorf("%w: %s is %s, not a text document", entity.ErrUnsupportedFormat, doc.Name, f)
	}

	ext := entity.NewExtraction(doc, f.String())
	if mismatch {
		ext.Warn(entity.WarnFormatMismatch,
			fmt.Sprintf("Dateiendung von %s passt nicht zum Inhalt (%s)", doc.Name, f), nil)
	}

	e.walk(ext, doc, blocks)

	ext.Metadata.Discipline = format.Discipline(doc.Name)
	ext.Metadata.Revision = format.Revision(doc.Name)
	return ext, nil
}

func fromDOCX(d *docx.Document) []block {
	blocks := make([]block, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		switch {
		case b.Para != nil:
			blocks = append(blocks, block{para: &paragraph{
				text:     b.Para.Text,
				heading:  b.Para.Heading,
				level:    b.Para.Level,
				listItem: b.Para.ListItem,
			}})
		case b.Table != nil:
			blocks = append(blocks, block{table: &table{cells: b.Table.Cells}})
		}
	}
	return blocks
}

func fromODT(d *odt.Document) []block {
	blocks := make([]block, 0, len(d.Blocks))
	for _, b := range d.Blocks {
		switch {
		case b.Para != nil:
			blocks = append(blocks, block{para: &paragraph{
				text:     b.Para.Text,
				heading:  b.Para.Heading,
				level:    b.Para.Level,
				listItem: b.Para.ListItem,
			}})
		case b.Table != nil:
			blocks = append(blocks, block{table: &table{name: b.Table.Name, cells: b.Table.Cells}})
		}
	}
	return blocks
}

// sectionCtx tracks the open heading chain. A sub-heading replaces its
// siblings but keeps its ancestors, and inherits their requirement
// marker and phase tag unless it carries its own.
type sectionCtx struct {
	stack []sectionFrame
}

type sectionFrame struct {
	level int
	title string
	req   bool
	phase string
}

func (s *sectionCtx) enter(title string, level int) {
	if level < 1 {
		level = 1
	}
	for len(s.stack) > 0 && s.stack[len(s.stack)-1].level >= level {
		s.stack = s.stack[:len(s.stack)-1]
	}

	lower := strings.ToLower(title)
	frame := sectionFrame{
		level: level,
		title: title,
		req:   isRequirementMarker(lower),
		phase: detectPhase(lower),
	}
	if parent := len(s.stack) - 1; parent >= 0 {
		if !frame.req {
			frame.req = s.stack[parent].req
		}
		if frame.phase == "" {
			frame.phase = s.stack[parent].phase
		}
	}
	s.stack = append(s.stack, frame)
}

func (s *sectionCtx) top() sectionFrame {
	if len(s.stack) == 0 {
		return sectionFrame{}
	}
	return s.stack[len(s.stack)-1]
}

// walk processes body blocks in document order. Headings set the section
// context; the paragraphs and tables below them carry it in their source
// references. Paragraph and table indices are 1-based locators.
func (e *Extractor) walk(ext *entity.Extraction, doc *entity.Document, blocks []block) {
	var (
		paraIdx  int
		tableIdx int
		sections sectionCtx
	)

	for _, b := range blocks {
		switch {
		case b.para != nil:
			paraIdx++
			text := strings.TrimSpace(b.para.text)
			if text == "" {
				continue
			}

			if b.para.heading {
				sections.enter(text, b.para.level)
			}
			sec := sections.top()

			src := doc.Ref(entity.SourceText)
			src.Paragraph = paraIdx
			src.Section = sec.title
			ext.FullText = append(ext.FullText, entity.TextBlock{Text: text, Source: src})

			if b.para.heading {
				continue
			}
			if IsRequirement(text) || (b.para.listItem && sec.req) {
				e.addRequirement(ext, text, strings.ToLower(text), sec.phase, src)
			}

		case b.table != nil:
			tableIdx++
			e.extractTable(ext, doc, b.table, tableIdx, sections.top().title)
		}
	}

	ext.Metadata.Paragraphs = paraIdx

	e.log.Debugw("document walked",
		"file", doc.Name,
		"paragraphs", paraIdx,
		"tables", tableIdx,
		"requirements", len(ext.Requirements))
}

// addRequirement classifies one requirement sentence. A phase marker in
// the sentence itself wins over the section's phase context.
func (e *Extractor) addRequirement(ext *entity.Extraction, text, lower, sectionPhase string, src entity.SourceRef) {
	req := &entity.Requirement{
		ID:       entity.SeqID("anf", len(ext.Requirements)+1),
		Text:     entity.Resolved(text),
		Category: entity.Resolved(classifyRequirement(lower)),
		Priority: entity.Resolved(obligation(lower)),
	}

	if p := detectPhase(lower); p != "" {
		req.Phase = entity.Resolved(p)
	} else if sectionPhase != "" {
		req.Phase = entity.Resolved(sectionPhase)
	}

	req.Spaces = spaceRefs(text)
	req.Plants = plantRefs(text)

	src.AddField("text")
	req.AddSource(src)
	ext.Requirements = append(ext.Requirements, req)
}

// extractTable routes a document table through the shared tabular
// machinery. The table index and section context travel on every source
// reference the table produces.
func (e *Extractor) extractTable(ext *entity.Extraction, doc *entity.Document, t *table, tableIdx int, section string) {
	e.tabular.ExtractGrid(ext, tabular.Grid{
		Name: t.name,
		Rows: t.cells,
		Ref: func(row, col int) entity.SourceRef {
			ref := doc.Ref(entity.SourceTable)
			ref.Table = tableIdx
			ref.Row = row + 1
			ref.Section = section
			return ref
		},
	})
}
