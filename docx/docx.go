// Package docx reads Office Open XML word-processing documents into a
// compact block model: paragraphs with resolved heading and list style
// information, and tables as rectangular text grids, both in document
// order.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// Document is the parsed content of a word-processing file.
type Document struct {
	Blocks []Block
}

// Block is one body-level element. Exactly one field is set.
type Block struct {
	Para  *Paragraph
	Table *Table
}

// Paragraph is a parsed paragraph with resolved style information.
type Paragraph struct {
	Text      string
	StyleID   string
	StyleName string
	Heading   bool
	Level     int // 1-9 when Heading is true
	ListItem  bool
	ListLevel int // 0-based indentation level for list items
}

// Table is a parsed table as a rectangular text grid. Horizontally and
// vertically merged cells repeat their value across the spanned grid
// positions.
type Table struct {
	Cells [][]string
}

// RowCount returns the number of rows in the table.
func (t *Table) RowCount() int { return len(t.Cells) }

// ColCount returns the widest row length.
func (t *Table) ColCount() int {
	max := 0
	for _, row := range t.Cells {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}

// Paragraphs returns the document's paragraphs in order.
func (d *Document) Paragraphs() []*Paragraph {
	var out []*Paragraph
	for _, b := range d.Blocks {
		if b.Para != nil {
			out = append(out, b.Para)
		}
	}
	return out
}

// Tables returns the document's tables in order.
func (d *Document) Tables() []*Table {
	var out []*Table
	for _, b := range d.Blocks {
		if b.Table != nil {
			out = append(out, b.Table)
		}
	}
	return out
}

// Text returns the document's plain text, one paragraph per line.
func (d *Document) Text() string {
	var sb strings.Builder
	for _, p := range d.Paragraphs() {
		if p.Text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// Parse reads a document from raw bytes.
func Parse(data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening document archive: %w", err)
	}

	p := &parser{}
	return p.parse(zr)
}

// Open reads a document from a file.
func Open(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	return Parse(data)
}

type parser struct {
	styles map[string]styleDefXML // keyed by lowercased style ID
}

func (p *parser) parse(zr *zip.Reader) (*Document, error) {
	docData, err := archiveFile(zr, "word/document.xml")
	if err != nil {
		return nil, fmt.Errorf("reading document body: %w", err)
	}

	var docXML documentXML
	if err := xml.Unmarshal(docData, &docXML); err != nil {
		return nil, fmt.Errorf("parsing document body: %w", err)
	}
	if docXML.Body == nil {
		return nil, fmt.Errorf("document has no body")
	}

	p.parseStyles(zr)

	doc := &Document{}
	for _, item := range docXML.Body.Items {
		switch {
		case item.Para != nil:
			doc.Blocks = append(doc.Blocks, Block{Para: p.parseParagraph(*item.Para)})
		case item.Table != nil:
			doc.Blocks = append(doc.Blocks, Block{Table: p.parseTable(*item.Table)})
		}
	}
	return doc, nil
}

func archiveFile(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (p *parser) parseStyles(zr *zip.Reader) {
	data, err := archiveFile(zr, "word/styles.xml")
	if err != nil {
		return // styles are optional
	}
	var styles stylesXML
	if err := xml.Unmarshal(data, &styles); err != nil {
		return
	}
	p.styles = make(map[string]styleDefXML, len(styles.Styles))
	for _, s := range styles.Styles {
		p.styles[strings.ToLower(s.StyleID)] = s
	}
}

func (p *parser) parseParagraph(px paragraphXML) *Paragraph {
	para := &Paragraph{StyleID: px.Properties.Style.Val}

	var text strings.Builder
	for _, run := range px.Runs {
		text.WriteString(runText(run))
	}
	for _, link := range px.Hyperlinks {
		for _, run := range link.Runs {
			text.WriteString(runText(run))
		}
	}
	para.Text = strings.TrimSpace(text.String())

	style, haveStyle := p.styles[strings.ToLower(para.StyleID)]
	if haveStyle {
		para.StyleName = style.Name.Val
	}

	para.Heading, para.Level = p.headingLevel(para.StyleID, style)
	if !para.Heading && px.Properties.OutlineLvl.Val != "" {
		if lvl, err := strconv.Atoi(px.Properties.OutlineLvl.Val); err == nil && lvl >= 0 && lvl <= 8 {
			para.Heading = true
			para.Level = lvl + 1
		}
	}

	if px.Properties.NumPr != nil && px.Properties.NumPr.NumID.Val != "" {
		para.ListItem = true
		if lvl, err := strconv.Atoi(px.Properties.NumPr.ILvl.Val); err == nil {
			para.ListLevel = lvl
		}
	} else if haveStyle && isListStyleName(style.Name.Val) {
		para.ListItem = true
	}

	return para
}

func runText(run runXML) string {
	var sb strings.Builder
	for _, t := range run.Text {
		sb.WriteString(t.Value)
	}
	for range run.Tabs {
		sb.WriteString("\t")
	}
	for range run.Breaks {
		sb.WriteString("\n")
	}
	return sb.String()
}

// headingStyleRe matches built-in heading style IDs. German Word writes
// "berschrift1" because style IDs strip the non-ASCII initial.
var headingStyleRe = regexp.MustCompile(`^(?:heading|berschrift|ueberschrift|überschrift)(\d)$`)

// headingNameRe matches localized heading style names like "heading 2"
// or "Überschrift 3".
var headingNameRe = regexp.MustCompile(`(?i)^(?:heading|überschrift|ueberschrift)\s*(\d)`)

func (p *parser) headingLevel(styleID string, style styleDefXML) (bool, int) {
	id := strings.ToLower(styleID)
	if id == "" {
		return false, 0
	}
	if id == "title" || id == "titel" {
		return true, 1
	}
	if m := headingStyleRe.FindStringSubmatch(id); m != nil {
		lvl, _ := strconv.Atoi(m[1])
		return true, lvl
	}

	if m := headingNameRe.FindStringSubmatch(style.Name.Val); m != nil {
		lvl, _ := strconv.Atoi(m[1])
		return true, lvl
	}
	if style.PPr.OutlineLvl.Val != "" {
		if lvl, err := strconv.Atoi(style.PPr.OutlineLvl.Val); err == nil && lvl >= 0 && lvl <= 8 {
			return true, lvl + 1
		}
	}
	return false, 0
}

func isListStyleName(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "list") || strings.Contains(n, "aufzählung") || strings.Contains(n, "aufzaehlung")
}

// parseTable resolves a table into a rectangular grid. gridSpan repeats
// the value to the right, vMerge continuation repeats the value from
// the row above.
func (p *parser) parseTable(tx tableXML) *Table {
	table := &Table{}

	cols := len(tx.Grid.Cols)
	for _, rx := range tx.Rows {
		row := make([]string, 0, cols)
		for _, cx := range rx.Cells {
			text := p.cellText(cx)

			span := 1
			if cx.Properties.GridSpan.Val != "" {
				if n, err := strconv.Atoi(cx.Properties.GridSpan.Val); err == nil && n > 1 {
					span = n
				}
			}

			mergeContinue := cx.Properties.VMerge != nil && cx.Properties.VMerge.Val != "restart"
			if mergeContinue && len(table.Cells) > 0 {
				above := table.Cells[len(table.Cells)-1]
				if len(row) < len(above) {
					text = above[len(row)]
				}
			}

			for i := 0; i < span; i++ {
				row = append(row, text)
			}
		}
		// Pad short rows so the grid stays rectangular.
		for cols > 0 && len(row) < cols {
			row = append(row, "")
		}
		table.Cells = append(table.Cells, row)
	}
	return table
}

func (p *parser) cellText(cx tableCellXML) string {
	var parts []string
	for _, px := range cx.Paragraphs {
		para := p.parseParagraph(px)
		if para.Text != "" {
			parts = append(parts, para.Text)
		}
	}
	return strings.Join(parts, "\n")
}
