// Package odt reads OpenDocument text files into the same compact block
// model the docx package produces: paragraphs with heading and list
// information, and tables as rectangular text grids, in document order.
package odt

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

// hardColumnCap bounds grids against runaway repeat counts from
// spreadsheet-style exporters.
const hardColumnCap = 1024

// Document is the parsed content of an OpenDocument text file.
type Document struct {
	Blocks []Block
}

// Block is one body-level element. Exactly one field is set.
type Block struct {
	Para  *Paragraph
	Table *Table
}

// Paragraph is a parsed paragraph or heading.
type Paragraph struct {
	Text      string
	StyleName string
	Heading   bool
	Level     int // 1-9 when Heading is true
	ListItem  bool
	ListLevel int // 0-based nesting depth for list items
}

// Table is a parsed table as a rectangular text grid. Spanned cells
// repeat their value across the covered grid positions.
type Table struct {
	Name  string
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

	f, err := zr.Open("content.xml")
	if err != nil {
		return nil, fmt.Errorf("reading content.xml: %w", err)
	}
	defer f.Close()

	var content bytes.Buffer
	if _, err := content.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("reading content.xml: %w", err)
	}

	var docXML documentXML
	if err := xml.Unmarshal(content.Bytes(), &docXML); err != nil {
		return nil, fmt.Errorf("parsing content.xml: %w", err)
	}
	if docXML.Body == nil || docXML.Body.Text == nil {
		return nil, fmt.Errorf("document has no text body")
	}

	doc := &Document{}
	for _, item := range docXML.Body.Text.Items {
		switch {
		case item.Para != nil:
			doc.Blocks = append(doc.Blocks, Block{Para: plainParagraph(item.Para)})
		case item.Heading != nil:
			doc.Blocks = append(doc.Blocks, Block{Para: headingParagraph(item.Heading)})
		case item.List != nil:
			appendList(doc, item.List, 0)
		case item.Table != nil:
			doc.Blocks = append(doc.Blocks, Block{Table: parseTable(item.Table)})
		}
	}
	return doc, nil
}

// Open reads a document from a file.
func Open(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	return Parse(data)
}

// headingStyleRe matches style names like "Heading_20_2" (the ODF
// escape for "Heading 2") or "Überschrift_20_1".
var headingStyleRe = regexp.MustCompile(`(?i)^(?:heading|überschrift|ueberschrift)(?:_20_|\s*)(\d)`)

func plainParagraph(tc *textContentXML) *Paragraph {
	p := &Paragraph{
		Text:      strings.TrimSpace(tc.Text),
		StyleName: tc.StyleName,
	}
	if m := headingStyleRe.FindStringSubmatch(tc.StyleName); m != nil {
		p.Heading = true
		p.Level, _ = strconv.Atoi(m[1])
	}
	return p
}

func headingParagraph(tc *textContentXML) *Paragraph {
	p := plainParagraph(tc)
	p.Heading = true
	if p.Level == 0 {
		p.Level = 1
		if lvl, err := strconv.Atoi(tc.OutlineLevel); err == nil && lvl >= 1 && lvl <= 9 {
			p.Level = lvl
		}
	}
	return p
}

func appendList(doc *Document, list *listXML, level int) {
	for _, item := range list.Items {
		for i := range item.Paragraphs {
			p := plainParagraph(&item.Paragraphs[i])
			p.ListItem = true
			p.ListLevel = level
			doc.Blocks = append(doc.Blocks, Block{Para: p})
		}
		for i := range item.SubLists {
			appendList(doc, &item.SubLists[i], level+1)
		}
	}
}

// spanFill carries a vertically merged value into the rows below.
type spanFill struct {
	remaining int
	text      string
}

// parseTable resolves a table into a rectangular grid. ODF emits a
// covered-table-cell for every position hidden by a span; those
// positions repeat the merge root's value.
func parseTable(tx *tableXML) *Table {
	declared := 0
	for _, col := range tx.Columns {
		n := 1
		if v, err := strconv.Atoi(col.Repeated); err == nil && v > 0 {
			n = v
		}
		declared += n
	}
	if declared == 0 || declared > hardColumnCap {
		declared = hardColumnCap
	}

	table := &Table{Name: tx.Name}
	rowFills := make(map[int]*spanFill)

	for _, rx := range tx.Rows {
		var row []string
		colFills := make(map[int]string)
		for _, item := range rx.Items {
			if item.Covered {
				for i := 0; i < item.Repeat && len(row) < declared; i++ {
					col := len(row)
					if text, ok := colFills[col]; ok {
						row = append(row, text)
						continue
					}
					if f := rowFills[col]; f != nil && f.remaining > 0 {
						f.remaining--
						row = append(row, f.text)
						continue
					}
					row = append(row, "")
				}
				continue
			}

			cell := item.Cell
			text := cellText(cell)

			repeat := 1
			if v, err := strconv.Atoi(cell.Repeated); err == nil && v > 0 {
				repeat = v
			}
			span := 1
			if v, err := strconv.Atoi(cell.ColsSpanned); err == nil && v > 1 {
				span = v
			}
			rowSpan := 1
			if v, err := strconv.Atoi(cell.RowsSpanned); err == nil && v > 1 {
				rowSpan = v
			}

			for r := 0; r < repeat; r++ {
				// Repeated empty trailers pad to the declared width only.
				if text == "" && len(row) >= declared {
					break
				}
				if len(row) >= hardColumnCap {
					break
				}
				colStart := len(row)
				row = append(row, text)
				for i := 1; i < span; i++ {
					colFills[colStart+i] = text
				}
				if rowSpan > 1 {
					for i := 0; i < span; i++ {
						rowFills[colStart+i] = &spanFill{remaining: rowSpan - 1, text: text}
					}
				}
			}
		}
		table.Cells = append(table.Cells, row)
	}

	trimTrailingEmpty(table)
	return table
}

func cellText(cx *tableCellXML) string {
	var parts []string
	for _, p := range cx.Paragraphs {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// trimTrailingEmpty drops columns past the last non-empty cell so
// spreadsheet-style exports do not yield thousands of blank columns.
func trimTrailingEmpty(table *Table) {
	width := 0
	for _, row := range table.Cells {
		for i := len(row) - 1; i >= 0; i-- {
			if row[i] != "" {
				if i+1 > width {
					width = i + 1
				}
				break
			}
		}
	}
	for i, row := range table.Cells {
		if len(row) > width {
			table.Cells[i] = row[:width]
		}
	}
}
