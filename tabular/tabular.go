// Package tabular extracts building entities from tables: workbook
// sheets, delimited files and document tables routed in by other
// extractors. Tables are classified by name and headers, columns are
// mapped by keyword, and every table is preserved raw regardless of
// classification.
package tabular

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tsawler/aedile/csvdoc"
	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/format"
	"github.com/tsawler/aedile/xlsx"
)

const (
	headerScanRows      = 20
	maxRows             = 10000
	maxConsecutiveEmpty = 100
)

// Grid is one rectangular table to extract from. Rows are 0-indexed;
// Ref resolves a grid position to a source reference.
type Grid struct {
	Name     string
	Rows     [][]string
	Date1904 bool
	Ref      func(row, col int) entity.SourceRef
}

// Extractor turns spreadsheet documents into building entities.
type Extractor struct {
	log *zap.SugaredLogger
}

// New creates a tabular extractor. A nil logger disables logging.
func New(log *zap.SugaredLogger) *Extractor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Extractor{log: log.Named("tabular")}
}

// Formats lists the document formats this extractor accepts.
func (e *Extractor) Formats() []format.Format {
	return []format.Format{format.XLSX, format.CSV}
}

// Extract parses the document and extracts entities from all its tables.
func (e *Extractor) Extract(ctx context.Context, doc *entity.Document) (*entity.Extraction, error) {
	f, mismatch, err := format.DetectDocument(doc)
	if err != nil {
		return nil, err
	}

	var ext *entity.Extraction
	switch f {
	case format.XLSX:
		ext, err = e.extractWorkbook(ctx, doc)
	case format.CSV:
		ext, err = e.extractDelimited(doc)
	default:
		return nil, fmt.Errorf("%w: %s is %s, not tabular", entity.ErrUnsupportedFormat, doc.Name, f)
	}
	if err != nil {
		return nil, err
	}

	if mismatch {
		ext.Warn(entity.WarnFormatMismatch,
			fmt.Sprintf("Dateiendung von %s passt nicht zum Inhalt (%s)", doc.Name, f), nil)
	}
	ext.Metadata.Discipline = format.Discipline(doc.Name)
	ext.Metadata.Revision = format.Revision(doc.Name)
	return ext, nil
}

func (e *Extractor) extractWorkbook(ctx context.Context, doc *entity.Document) (*entity.Extraction, error) {
	wb, err := xlsx.Parse(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedDocument, err)
	}

	ext := entity.NewExtraction(doc, format.XLSX.String())
	ext.Metadata.Sheets = len(wb.Sheets)

	for _, sheet := range wb.Sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		grid := workbookGrid(doc, sheet, wb.Date1904)
		e.ExtractGrid(ext, grid)
	}
	return ext, nil
}

func (e *Extractor) extractDelimited(doc *entity.Document) (*entity.Extraction, error) {
	table, err := csvdoc.Parse(doc.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrMalformedDocument, err)
	}

	ext := entity.NewExtraction(doc, format.CSV.String())
	ext.Metadata.Sheets = 1

	rows := make([][]string, len(table.Records))
	for i, rec := range table.Records {
		row := make([]string, len(rec))
		for j, v := range rec {
			row[j] = strings.TrimSpace(v)
		}
		rows[i] = row
	}

	e.ExtractGrid(ext, Grid{
		Name: strings.TrimSuffix(doc.Name, ".csv"),
		Rows: rows,
		Ref: func(row, col int) entity.SourceRef {
			ref := doc.Ref(entity.SourceTable)
			ref.Row = row + 1
			ref.Cell = xlsx.CellRef(col, row)
			return ref
		},
	})
	return ext, nil
}

// workbookGrid builds the uniform grid view over a worksheet.
func workbookGrid(doc *entity.Document, sheet *xlsx.Sheet, date1904 bool) Grid {
	rows := make([][]string, len(sheet.Rows))
	for i, cells := range sheet.Rows {
		row := make([]string, len(cells))
		for j := range cells {
			row[j] = strings.TrimSpace(cells[j].Value)
		}
		rows[i] = row
	}
	return Grid{
		Name:     sheet.Name,
		Rows:     rows,
		Date1904: date1904,
		Ref: func(row, col int) entity.SourceRef {
			ref := doc.Ref(entity.SourceTable)
			ref.Sheet = sheet.Name
			ref.Row = row + 1
			ref.Cell = xlsx.CellRef(col, row)
			return ref
		},
	}
}

// ExtractGrid classifies one table, extracts its entities into ext and
// preserves it as a raw table. Unclassified tables are preserved with a
// warning but lose nothing.
func (e *Extractor) ExtractGrid(ext *entity.Extraction, grid Grid) {
	if len(grid.Rows) == 0 {
		return
	}

	kind := ClassifyTable(grid.Name, nil)
	specs := columnsFor(kind)
	headerIdx, ok := findHeaderRow(grid.Rows, specs)
	if !ok {
		return // nothing but blank rows
	}

	header := grid.Rows[headerIdx]
	if kind == KindUnknown {
		kind = ClassifyTable("", header)
		specs = columnsFor(kind)
		if kind != KindUnknown {
			// With the kind known, a better header row may exist.
			if idx, ok := findHeaderRow(grid.Rows, specs); ok {
				headerIdx = idx
				header = grid.Rows[headerIdx]
			}
		}
	}

	cols := mapColumns(header, specs)
	body := tableBody(grid.Rows, headerIdx+1)

	raw := entity.RawTable{
		Name:    grid.Name,
		Headers: headerLabels(header, gridWidth(grid.Rows)),
		Rows:    body,
		Source:  grid.Ref(headerIdx, 0),
	}
	raw.Source.Cell = ""
	ext.RawTables = append(ext.RawTables, raw)

	// Cells above the header (titles, notes) are kept as free text.
	for i := 0; i < headerIdx; i++ {
		for j, cell := range grid.Rows[i] {
			if cell == "" {
				continue
			}
			ext.FullText = append(ext.FullText, entity.TextBlock{Text: cell, Source: grid.Ref(i, j)})
		}
	}

	if kind == KindUnknown {
		e.log.Debugw("table not classified", "table", grid.Name, "rows", len(body))
		ext.Warn(entity.WarnSkipped,
			fmt.Sprintf("Tabelle %q nicht klassifiziert, nur Rohdaten erhalten", grid.Name),
			refPtr(raw.Source))
		return
	}

	e.log.Debugw("table classified", "table", grid.Name, "kind", kind, "columns", len(cols))

	count := 0
	for i, row := range body {
		rowIdx := headerIdx + 1 + i
		if isSummaryRow(row) {
			continue
		}
		if e.extractRow(ext, grid, kind, cols, row, rowIdx) {
			count++
		}
	}
	if count == 0 {
		ext.Warn(entity.WarnLowConfidence,
			fmt.Sprintf("Tabelle %q (%s) ergab keine Objekte", grid.Name, kind),
			refPtr(raw.Source))
	}
}

// tableBody collects the data rows after the header, stopping at the
// consecutive-empty limit and the absolute row cap.
func tableBody(rows [][]string, start int) [][]string {
	var body [][]string
	empty := 0
	for i := start; i < len(rows) && len(body) < maxRows; i++ {
		if rowEmpty(rows[i]) {
			empty++
			if empty >= maxConsecutiveEmpty {
				break
			}
			continue
		}
		empty = 0
		body = append(body, rows[i])
	}
	return body
}

func rowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// isSummaryRow skips totals so they do not become entities.
func isSummaryRow(row []string) bool {
	for _, c := range row {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		return strings.HasPrefix(c, "gesamt") || strings.HasPrefix(c, "summe") || strings.HasPrefix(c, "total")
	}
	return false
}

func gridWidth(rows [][]string) int {
	max := 0
	for _, row := range rows {
		if len(row) > max {
			max = len(row)
		}
	}
	return max
}

func refPtr(ref entity.SourceRef) *entity.SourceRef { return &ref }

// cellAt returns the trimmed cell for a mapped field, or "".
func cellAt(row []string, cols map[string]int, field string) string {
	idx, ok := cols[field]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func numberAt(row []string, cols map[string]int, field string) (float64, bool) {
	s := cellAt(row, cols, field)
	if s == "" {
		return 0, false
	}
	return ParseNumber(s)
}

// extractRow converts one data row into an entity. Returns false when
// the row carries nothing usable.
func (e *Extractor) extractRow(ext *entity.Extraction, grid Grid, kind string, cols map[string]int, row []string, rowIdx int) bool {
	switch kind {
	case KindRooms:
		return e.rowToSpace(ext, grid, cols, row, rowIdx)
	case KindDevices:
		return e.rowToDevice(ext, grid, cols, row, rowIdx)
	case KindPlants:
		return e.rowToPlant(ext, grid, cols, row, rowIdx)
	case KindSchedule:
		return e.rowToScheduleItem(ext, grid, cols, row, rowIdx)
	case KindServices:
		return e.rowToServiceItem(ext, grid, cols, row, rowIdx)
	}
	return false
}

func (e *Extractor) rowToSpace(ext *entity.Extraction, grid Grid, cols map[string]int, row []string, rowIdx int) bool {
	number := cellAt(row, cols, "nummer")
	name := cellAt(row, cols, "name")

	src := grid.Ref(rowIdx, 0)
	src.Cell = ""

	space := &entity.Space{}
	if number != "" {
		space.Number = entity.Resolved(number)
		src.AddField("nummer")
	}
	if name != "" {
		space.Name = entity.Resolved(name)
		src.AddField("name")
	}

	if v, ok := numberAt(row, cols, "flaeche"); ok {
		space.AreaM2 = entity.Resolved(v)
		src.AddField("flaeche_m2")
	}
	if v, ok := numberAt(row, cols, "volumen"); ok {
		space.VolumeM3 = entity.Resolved(v)
		src.AddField("volumen_m3")
	}
	if v, ok := numberAt(row, cols, "hoehe"); ok {
		space.HeightM = entity.Resolved(v)
		src.AddField("hoehe_m")
	}
	if v := cellAt(row, cols, "nutzung"); v != "" {
		space.Usage = entity.Resolved(v)
		src.AddField("nutzungsart")
	}
	if v := cellAt(row, cols, "geschoss"); v != "" {
		space.Floor = entity.Resolved(v)
		src.AddField("geschoss")
	}
	if v := cellAt(row, cols, "zone"); v != "" {
		space.Zone = entity.Resolved(v)
		src.AddField("zone")
	}

	if len(src.Fields) == 0 {
		return false
	}

	switch {
	case number != "":
		space.ID = entity.SpaceID(number)
	case name != "":
		space.ID = entity.SpaceID(name)
	default:
		// A row with values but no identity still becomes an entity;
		// it is flagged and gets a positional identifier.
		space.ID = entity.SpaceID(fmt.Sprintf("%s zeile %d", grid.Name, rowIdx+1))
		space.Incomplete = true
		ext.Warn(entity.WarnIncomplete,
			fmt.Sprintf("Raum ohne Nummer und Bezeichnung in Zeile %d", rowIdx+1), refPtr(src))
	}

	space.AddSource(src)
	ext.Spaces = append(ext.Spaces, space)
	return true
}

func (e *Extractor) rowToDevice(ext *entity.Extraction, grid Grid, cols map[string]int, row []string, rowIdx int) bool {
	name := cellAt(row, cols, "name")

	src := grid.Ref(rowIdx, 0)
	src.Cell = ""

	dev := &entity.Device{}
	if name != "" {
		dev.Name = entity.Resolved(name)
		src.AddField("name")
	}
	if v := cellAt(row, cols, "typ"); v != "" {
		dev.Kind = entity.Resolved(v)
		src.AddField("typ")
	}
	if v, ok := numberAt(row, cols, "leistung_kw"); ok {
		dev.PowerKW = entity.Resolved(v)
		src.AddField("leistung_kw")
	}
	if v, ok := numberAt(row, cols, "leistung_m3_h"); ok {
		dev.AirflowM3H = entity.Resolved(v)
		src.AddField("leistung_m3_h")
	}
	if v := cellAt(row, cols, "anlage"); v != "" {
		dev.Plant = entity.Resolved(v)
		src.AddField("zugehoerige_anlage")
	}
	if v := cellAt(row, cols, "raum"); v != "" {
		dev.Space = entity.Resolved(v)
		src.AddField("zugehoeriger_raum")
	}

	if len(src.Fields) == 0 {
		return false
	}

	if name != "" {
		dev.ID = entity.DeviceID(name)
	} else {
		dev.ID = entity.DeviceID(fmt.Sprintf("%s zeile %d", grid.Name, rowIdx+1))
		dev.Incomplete = true
		ext.Warn(entity.WarnIncomplete,
			fmt.Sprintf("Gerät ohne Bezeichnung in Zeile %d", rowIdx+1), refPtr(src))
	}

	dev.AddSource(src)
	ext.Devices = append(ext.Devices, dev)
	return true
}

func (e *Extractor) rowToPlant(ext *entity.Extraction, grid Grid, cols map[string]int, row []string, rowIdx int) bool {
	name := cellAt(row, cols, "name")

	src := grid.Ref(rowIdx, 0)
	src.Cell = ""

	plant := &entity.Plant{}
	if name != "" {
		plant.Name = entity.Resolved(name)
		src.AddField("name")
	}
	if v := cellAt(row, cols, "typ"); v != "" {
		plant.Kind = entity.Resolved(v)
		src.AddField("typ")
	}
	if v, ok := numberAt(row, cols, "leistung_kw"); ok {
		plant.PowerKW = entity.Resolved(v)
		src.AddField("leistung_kw")
	}
	if v, ok := numberAt(row, cols, "leistung_m3_h"); ok {
		plant.AirflowM3H = entity.Resolved(v)
		src.AddField("leistung_m3_h")
	}

	if len(src.Fields) == 0 {
		return false
	}

	if name != "" {
		plant.ID = entity.PlantID(name)
	} else {
		plant.ID = entity.PlantID(fmt.Sprintf("%s zeile %d", grid.Name, rowIdx+1))
		plant.Incomplete = true
		ext.Warn(entity.WarnIncomplete,
			fmt.Sprintf("Anlage ohne Bezeichnung in Zeile %d", rowIdx+1), refPtr(src))
	}

	plant.AddSource(src)
	ext.Plants = append(ext.Plants, plant)
	return true
}

func (e *Extractor) rowToScheduleItem(ext *entity.Extraction, grid Grid, cols map[string]int, row []string, rowIdx int) bool {
	desc := cellAt(row, cols, "beschreibung")
	if desc == "" {
		return false
	}

	src := grid.Ref(rowIdx, 0)
	src.Cell = ""
	src.AddField("beschreibung")

	item := &entity.ScheduleItem{
		ID:          entity.SeqID("term", len(ext.Schedule)+1),
		Description: entity.Resolved(desc),
	}

	if v := cellAt(row, cols, "datum"); v != "" {
		if iso, ok := ParseDate(v, grid.Date1904); ok {
			item.Date = entity.Resolved(iso)
			src.AddField("termin_datum")
		} else {
			ext.Warn(entity.WarnLowConfidence,
				fmt.Sprintf("Datum %q in Zeile %d nicht lesbar", v, rowIdx+1), refPtr(src))
		}
	}
	if v := cellAt(row, cols, "kategorie"); v != "" {
		item.Category = entity.Resolved(v)
	} else {
		item.Category = entity.Resolved("Meilenstein")
	}
	src.AddField("kategorie")
	if v := cellAt(row, cols, "phase"); v != "" {
		item.Phase = entity.Resolved(v)
		src.AddField("sia_phase")
	}
	if v := cellAt(row, cols, "abhaengig"); v != "" {
		item.DependsOn = splitRefs(v)
	}

	if !item.Date.IsSet() {
		item.Incomplete = true
	}

	item.AddSource(src)
	ext.Schedule = append(ext.Schedule, item)
	return true
}

func (e *Extractor) rowToServiceItem(ext *entity.Extraction, grid Grid, cols map[string]int, row []string, rowIdx int) bool {
	text := cellAt(row, cols, "beschreibung")
	position := cellAt(row, cols, "position")
	if text == "" && position == "" {
		return false
	}

	src := grid.Ref(rowIdx, 0)
	src.Cell = ""

	item := &entity.ServiceItem{
		ID: entity.SeqID("leist", len(ext.Services)+1),
	}
	if position != "" {
		item.Position = entity.Resolved(position)
		src.AddField("position")
	}
	if text != "" {
		item.Text = entity.Resolved(text)
		src.AddField("beschreibung")
	} else {
		item.Incomplete = true
	}
	if v, ok := numberAt(row, cols, "menge"); ok {
		item.Quantity = entity.Resolved(v)
		src.AddField("menge")
	}
	if v := cellAt(row, cols, "einheit"); v != "" {
		item.Unit = entity.Resolved(v)
		src.AddField("einheit")
	}
	if v := cellAt(row, cols, "gewerk"); v != "" {
		item.Discipline = entity.Resolved(v)
		src.AddField("gewerk")
	}
	if v := cellAt(row, cols, "kategorie"); v != "" {
		item.Category = entity.Resolved(v)
		src.AddField("kategorie")
	}
	if v := cellAt(row, cols, "phase"); v != "" {
		item.Phase = entity.Resolved(v)
		src.AddField("sia_phase")
	}

	item.AddSource(src)
	ext.Services = append(ext.Services, item)
	return true
}
