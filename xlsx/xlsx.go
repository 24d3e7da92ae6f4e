// Package xlsx reads Office Open XML spreadsheets with the fidelity the
// tabular extractor needs: sheet names, shared strings including rich-text
// runs, cell types, merged regions and the 1904 date system flag.
package xlsx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Workbook holds the parsed worksheets of a spreadsheet.
type Workbook struct {
	Sheets []*Sheet

	// Date1904 indicates serial dates count from 1904-01-01 instead of
	// 1899-12-30 (legacy Mac workbooks).
	Date1904 bool

	sharedStrings []string
	rels          map[string]string
}

// Parse reads a workbook from raw bytes.
func Parse(data []byte) (*Workbook, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening spreadsheet archive: %w", err)
	}

	wb := &Workbook{rels: make(map[string]string)}
	if err := wb.parse(zr); err != nil {
		return nil, err
	}
	return wb, nil
}

// Open reads a workbook from a file.
func Open(filename string) (*Workbook, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}
	return Parse(data)
}

func (wb *Workbook) parse(zr *zip.Reader) error {
	wbData, err := fileContent(zr, "xl/workbook.xml")
	if err != nil {
		return fmt.Errorf("reading workbook: %w", err)
	}

	var wbXML workbookXML
	if err := xml.Unmarshal(wbData, &wbXML); err != nil {
		return fmt.Errorf("parsing workbook: %w", err)
	}
	wb.Date1904 = wbXML.Pr.Date1904 == "1" || strings.EqualFold(wbXML.Pr.Date1904, "true")

	wb.parseRelationships(zr)
	wb.parseSharedStrings(zr)

	for i, ref := range wbXML.Sheets.Sheet {
		target := wb.rels[ref.RID]
		if target == "" {
			target = fmt.Sprintf("worksheets/sheet%d.xml", i+1)
		}
		target = strings.TrimPrefix(target, "/")
		if !strings.HasPrefix(target, "xl/") {
			target = "xl/" + target
		}

		data, err := fileContent(zr, target)
		if err != nil {
			continue // skip sheets we cannot read
		}
		sheet, err := wb.parseWorksheet(data, ref.Name, i)
		if err != nil {
			continue
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}

	if len(wb.Sheets) == 0 {
		return fmt.Errorf("no readable worksheets")
	}
	return nil
}

// fileContent reads one file from the ZIP archive.
func fileContent(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("file not found: %s", name)
}

func (wb *Workbook) parseRelationships(zr *zip.Reader) {
	data, err := fileContent(zr, "xl/_rels/workbook.xml.rels")
	if err != nil {
		return // relationships are optional
	}
	var rels relationshipsXML
	if err := xml.Unmarshal(data, &rels); err != nil {
		return
	}
	for _, rel := range rels.Relationship {
		wb.rels[rel.ID] = rel.Target
	}
}

func (wb *Workbook) parseSharedStrings(zr *zip.Reader) {
	data, err := fileContent(zr, "xl/sharedStrings.xml")
	if err != nil {
		return // shared strings are optional
	}
	var sst sharedStringsXML
	if err := xml.Unmarshal(data, &sst); err != nil {
		return
	}

	wb.sharedStrings = make([]string, len(sst.SI))
	for i, si := range sst.SI {
		if si.T != "" {
			wb.sharedStrings[i] = si.T
			continue
		}
		// Rich text: concatenate all runs.
		var text strings.Builder
		for _, run := range si.R {
			text.WriteString(run.T)
		}
		wb.sharedStrings[i] = text.String()
	}
}

func (wb *Workbook) parseWorksheet(data []byte, name string, index int) (*Sheet, error) {
	var ws worksheetXML
	if err := xml.Unmarshal(data, &ws); err != nil {
		return nil, err
	}

	sheet := &Sheet{Name: name, Index: index}

	if ws.MergeCells != nil {
		for _, mc := range ws.MergeCells.MergeCell {
			startCol, startRow, endCol, endRow, err := ParseRangeRef(mc.Ref)
			if err != nil {
				continue
			}
			sheet.MergedRegions = append(sheet.MergedRegions, MergedRegion{
				StartRow: startRow,
				StartCol: startCol,
				EndRow:   endRow,
				EndCol:   endCol,
			})
		}
	}

	// First pass: dimensions.
	maxRow, maxCol := 0, 0
	for _, row := range ws.SheetData.Rows {
		if row.R > maxRow {
			maxRow = row.R
		}
		for _, cell := range row.Cells {
			col, _, err := ParseCellRef(cell.R)
			if err != nil {
				continue
			}
			if col > maxCol {
				maxCol = col
			}
		}
	}
	sheet.MaxRow = maxRow - 1
	sheet.MaxCol = maxCol

	sheet.Rows = make([][]Cell, maxRow)
	for i := range sheet.Rows {
		sheet.Rows[i] = make([]Cell, maxCol+1)
		for j := range sheet.Rows[i] {
			sheet.Rows[i][j] = Cell{Row: i, Col: j, Type: CellTypeEmpty}
		}
	}

	// Second pass: populate cells.
	for _, row := range ws.SheetData.Rows {
		rowIdx := row.R - 1
		if rowIdx < 0 || rowIdx >= len(sheet.Rows) {
			continue
		}
		for _, cx := range row.Cells {
			col, _, err := ParseCellRef(cx.R)
			if err != nil || col < 0 || col >= len(sheet.Rows[rowIdx]) {
				continue
			}
			cell := &sheet.Rows[rowIdx][col]
			cell.RawValue = cx.V
			wb.resolveCell(cell, cx)
		}
	}

	// Mark merged cells; the root carries the value for the whole region.
	for _, mr := range sheet.MergedRegions {
		for row := mr.StartRow; row <= mr.EndRow && row < len(sheet.Rows); row++ {
			for col := mr.StartCol; col <= mr.EndCol && col < len(sheet.Rows[row]); col++ {
				cell := &sheet.Rows[row][col]
				cell.IsMerged = true
				cell.IsMergeRoot = row == mr.StartRow && col == mr.StartCol
			}
		}
	}

	return sheet, nil
}

// resolveCell fills a cell's display value from its XML type.
func (wb *Workbook) resolveCell(cell *Cell, cx cellXML) {
	switch cx.T {
	case "s": // shared string
		cell.Type = CellTypeString
		if idx, err := strconv.Atoi(cx.V); err == nil && idx >= 0 && idx < len(wb.sharedStrings) {
			cell.Value = wb.sharedStrings[idx]
		}
	case "b":
		cell.Type = CellTypeBoolean
		if cx.V == "1" {
			cell.Value = "TRUE"
		} else {
			cell.Value = "FALSE"
		}
	case "e":
		cell.Type = CellTypeError
		cell.Value = cx.V
	case "str": // formula result
		cell.Type = CellTypeString
		cell.Value = cx.V
	case "inlineStr":
		cell.Type = CellTypeString
		if cx.Is != nil {
			cell.Value = cx.Is.T
		}
	default: // number or empty
		if cx.V != "" {
			cell.Type = CellTypeNumber
			cell.Value = cx.V
		}
	}
}

// SheetByName returns the sheet with the given name, or nil.
func (wb *Workbook) SheetByName(name string) *Sheet {
	for _, s := range wb.Sheets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// SheetNames returns the names of all sheets in workbook order.
func (wb *Workbook) SheetNames() []string {
	names := make([]string, len(wb.Sheets))
	for i, s := range wb.Sheets {
		names[i] = s.Name
	}
	return names
}
