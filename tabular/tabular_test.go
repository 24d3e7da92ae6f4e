package tabular

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/tsawler/aedile/entity"
)

func testGrid(name string, rows [][]string) Grid {
	return Grid{
		Name: name,
		Rows: rows,
		Ref: func(row, col int) entity.SourceRef {
			return entity.SourceRef{
				File:  "liste.xlsx",
				Sheet: name,
				Row:   row + 1,
				Kind:  entity.SourceTable,
			}
		},
	}
}

func newTestExtraction(name string) *entity.Extraction {
	return entity.NewExtraction(&entity.Document{ID: "doc-1", Name: name}, "XLSX")
}

func hasWarning(warnings []entity.Warning, code string) bool {
	for _, w := range warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

func TestExtractGrid_Rooms(t *testing.T) {
	ext := newTestExtraction("raumbuch.xlsx")
	New(nil).ExtractGrid(ext, testGrid("Raumliste", [][]string{
		{"Raumliste Bürogebäude", "", "", ""},
		{"Raum-Nr", "Bezeichnung", "Fläche (m²)", "Geschoss"},
		{"R1.01", "Büro Ost", "24,5", "EG"},
		{"R1.02", "Besprechung", "31,0", "EG"},
		{"Gesamt", "", "55,5", ""},
	}))

	if len(ext.Spaces) != 2 {
		t.Fatalf("got %d spaces, want 2 (summary row must not become one)", len(ext.Spaces))
	}

	s := ext.Spaces[0]
	if s.ID != "raum_r1_01" {
		t.Errorf("ID = %q, want %q", s.ID, "raum_r1_01")
	}
	if got, _ := s.Number.Get(); got != "R1.01" {
		t.Errorf("Number = %q, want %q", got, "R1.01")
	}
	if got, _ := s.Name.Get(); got != "Büro Ost" {
		t.Errorf("Name = %q, want %q", got, "Büro Ost")
	}
	if got, _ := s.AreaM2.Get(); got != 24.5 {
		t.Errorf("AreaM2 = %v, want 24.5", got)
	}
	if got, _ := s.Floor.Get(); got != "EG" {
		t.Errorf("Floor = %q, want %q", got, "EG")
	}
	if s.Incomplete {
		t.Error("complete row flagged incomplete")
	}

	if len(s.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(s.Sources))
	}
	src := s.Sources[0]
	if src.Sheet != "Raumliste" || src.Row != 3 {
		t.Errorf("source = Blatt %q Zeile %d, want Raumliste/3", src.Sheet, src.Row)
	}
	wantFields := []string{"nummer", "name", "flaeche_m2", "geschoss"}
	if !reflect.DeepEqual(src.Fields, wantFields) {
		t.Errorf("source fields = %v, want %v", src.Fields, wantFields)
	}

	if len(ext.RawTables) != 1 {
		t.Fatalf("got %d raw tables, want 1", len(ext.RawTables))
	}
	raw := ext.RawTables[0]
	if raw.Name != "Raumliste" {
		t.Errorf("raw table name = %q, want Raumliste", raw.Name)
	}
	if len(raw.Rows) != 3 {
		t.Errorf("raw table keeps %d rows, want 3 (summary row stays raw)", len(raw.Rows))
	}

	if len(ext.FullText) != 1 {
		t.Fatalf("got %d text blocks, want 1 (title above the header)", len(ext.FullText))
	}
	if got := ext.FullText[0].Text; got != "Raumliste Bürogebäude" {
		t.Errorf("FullText[0].Text = %q, want the title cell", got)
	}
	if got := ext.FullText[0].Source.Row; got != 1 {
		t.Errorf("FullText[0].Source.Row = %d, want 1", got)
	}
}

func TestExtractGrid_RoomWithoutIdentity(t *testing.T) {
	ext := newTestExtraction("raumbuch.xlsx")
	New(nil).ExtractGrid(ext, testGrid("Raumliste", [][]string{
		{"Raum-Nr", "Bezeichnung", "Fläche (m²)"},
		{"R1.01", "Büro", "24,5"},
		{"", "", "18,5"},
	}))

	if len(ext.Spaces) != 2 {
		t.Fatalf("got %d spaces, want 2 (nameless row must not be dropped)", len(ext.Spaces))
	}

	s := ext.Spaces[1]
	if !s.Incomplete {
		t.Error("nameless row not flagged incomplete")
	}
	if s.ID != "raum_raumliste_zeile_3" {
		t.Errorf("ID = %q, want positional raum_raumliste_zeile_3", s.ID)
	}
	if got, _ := s.AreaM2.Get(); got != 18.5 {
		t.Errorf("AreaM2 = %v, want 18.5", got)
	}
	if !hasWarning(ext.Warnings, entity.WarnIncomplete) {
		t.Error("missing incomplete warning")
	}
	if err := ext.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestExtractGrid_Devices(t *testing.T) {
	ext := newTestExtraction("geraete.xlsx")
	New(nil).ExtractGrid(ext, testGrid("Geräteliste", [][]string{
		{"Bezeichnung", "Typ", "Leistung (kW)", "Volumenstrom (m³/h)", "Anlage", "Raum"},
		{"VENT-01", "Ventilator", "1,5", "2500", "LA-01", "R1.01"},
	}))

	if len(ext.Devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(ext.Devices))
	}
	d := ext.Devices[0]
	if d.ID != "geraet_vent_01" {
		t.Errorf("ID = %q, want geraet_vent_01", d.ID)
	}
	if got, _ := d.Kind.Get(); got != "Ventilator" {
		t.Errorf("Kind = %q, want Ventilator", got)
	}
	if got, _ := d.PowerKW.Get(); got != 1.5 {
		t.Errorf("PowerKW = %v, want 1.5", got)
	}
	if got, _ := d.AirflowM3H.Get(); got != 2500 {
		t.Errorf("AirflowM3H = %v, want 2500", got)
	}
	if got, _ := d.Plant.Get(); got != "LA-01" {
		t.Errorf("Plant = %q, want LA-01", got)
	}
	if got, _ := d.Space.Get(); got != "R1.01" {
		t.Errorf("Space = %q, want R1.01", got)
	}
}

func TestExtractGrid_Plants(t *testing.T) {
	ext := newTestExtraction("anlagen.xlsx")
	New(nil).ExtractGrid(ext, testGrid("Anlagenliste", [][]string{
		{"Anlagenbezeichnung", "Typ", "Leistung (kW)"},
		{"LA-01", "Lüftungsanlage", "11"},
	}))

	if len(ext.Plants) != 1 {
		t.Fatalf("got %d plants, want 1", len(ext.Plants))
	}
	p := ext.Plants[0]
	if p.ID != "anlage_la_01" {
		t.Errorf("ID = %q, want anlage_la_01", p.ID)
	}
	if got, _ := p.Kind.Get(); got != "Lüftungsanlage" {
		t.Errorf("Kind = %q, want Lüftungsanlage", got)
	}
	if got, _ := p.PowerKW.Get(); got != 11.0 {
		t.Errorf("PowerKW = %v, want 11", got)
	}
}

func TestExtractGrid_Schedule(t *testing.T) {
	ext := newTestExtraction("termine.xlsx")
	New(nil).ExtractGrid(ext, testGrid("Terminplan", [][]string{
		{"Vorgang", "Datum", "SIA-Phase", "Abhängig von"},
		{"Abgabe Vorprojekt", "15.03.2026", "31", ""},
		{"Baueingabe", "KW 12", "", ""},
		{"Rohbau fertig", "", "", "Abgabe Vorprojekt; Baueingabe"},
	}))

	if len(ext.Schedule) != 3 {
		t.Fatalf("got %d schedule items, want 3", len(ext.Schedule))
	}

	first := ext.Schedule[0]
	if first.ID != "term_0001" {
		t.Errorf("ID = %q, want term_0001", first.ID)
	}
	if got, _ := first.Date.Get(); got != "2026-03-15" {
		t.Errorf("Date = %q, want 2026-03-15", got)
	}
	if got := first.Category.Or(""); got != "Meilenstein" {
		t.Errorf("Category = %q, want default Meilenstein", got)
	}
	if got, _ := first.Phase.Get(); got != "31" {
		t.Errorf("Phase = %q, want 31", got)
	}
	if first.Incomplete {
		t.Error("dated item flagged incomplete")
	}

	second := ext.Schedule[1]
	if second.Date.IsSet() {
		t.Error("unreadable date must stay unset")
	}
	if !second.Incomplete {
		t.Error("item without date not flagged incomplete")
	}
	if !hasWarning(ext.Warnings, entity.WarnLowConfidence) {
		t.Error("missing warning for unreadable date")
	}

	third := ext.Schedule[2]
	wantDeps := []string{"Abgabe Vorprojekt", "Baueingabe"}
	if !reflect.DeepEqual(third.DependsOn, wantDeps) {
		t.Errorf("DependsOn = %v, want %v", third.DependsOn, wantDeps)
	}
}

func TestExtractGrid_Services(t *testing.T) {
	ext := newTestExtraction("lv.xlsx")
	New(nil).ExtractGrid(ext, testGrid("LV Lüftung", [][]string{
		{"Pos", "Kurztext", "Menge", "Einheit", "Gewerk"},
		{"01.100", "Lüftungsgerät liefern und montieren", "2", "Stk", "Lüftung"},
		{"01.200", "", "1", "psch", ""},
	}))

	if len(ext.Services) != 2 {
		t.Fatalf("got %d service items, want 2", len(ext.Services))
	}

	item := ext.Services[0]
	if item.ID != "leist_0001" {
		t.Errorf("ID = %q, want leist_0001", item.ID)
	}
	if got, _ := item.Position.Get(); got != "01.100" {
		t.Errorf("Position = %q, want 01.100", got)
	}
	if got, _ := item.Text.Get(); got != "Lüftungsgerät liefern und montieren" {
		t.Errorf("Text = %q", got)
	}
	if got, _ := item.Quantity.Get(); got != 2.0 {
		t.Errorf("Quantity = %v, want 2", got)
	}
	if got, _ := item.Unit.Get(); got != "Stk" {
		t.Errorf("Unit = %q, want Stk", got)
	}
	if got, _ := item.Discipline.Get(); got != "Lüftung" {
		t.Errorf("Discipline = %q, want Lüftung", got)
	}

	if !ext.Services[1].Incomplete {
		t.Error("item without text not flagged incomplete")
	}
}

func TestExtractGrid_UnknownTableKeptRaw(t *testing.T) {
	ext := newTestExtraction("notizen.xlsx")
	New(nil).ExtractGrid(ext, testGrid("Tabelle1", [][]string{
		{"Thema", "Anmerkung"},
		{"Brandschutz", "Klärung offen"},
	}))

	if got := ext.EntityCount(); got != 0 {
		t.Fatalf("EntityCount() = %d, want 0", got)
	}
	if len(ext.RawTables) != 1 {
		t.Fatalf("got %d raw tables, want 1", len(ext.RawTables))
	}
	raw := ext.RawTables[0]
	if !reflect.DeepEqual(raw.Headers, []string{"Thema", "Anmerkung"}) {
		t.Errorf("headers = %v, want [Thema Anmerkung]", raw.Headers)
	}
	if !reflect.DeepEqual(raw.Rows, [][]string{{"Brandschutz", "Klärung offen"}}) {
		t.Errorf("rows = %v", raw.Rows)
	}
	if !hasWarning(ext.Warnings, entity.WarnSkipped) {
		t.Error("missing skipped warning")
	}
}

func TestExtractGrid_ClassifiedButEmpty(t *testing.T) {
	ext := newTestExtraction("raumbuch.xlsx")
	New(nil).ExtractGrid(ext, testGrid("Raumliste", [][]string{
		{"Raum-Nr", "Bezeichnung", "Fläche (m²)"},
	}))

	if got := ext.EntityCount(); got != 0 {
		t.Fatalf("EntityCount() = %d, want 0", got)
	}
	if !hasWarning(ext.Warnings, entity.WarnLowConfidence) {
		t.Error("missing low-confidence warning for empty table")
	}
}

// buildWorkbook assembles a minimal two-sheet spreadsheet archive.
func buildWorkbook(t *testing.T) []byte {
	t.Helper()
	parts := map[string]string{
		"xl/workbook.xml": `<?xml version="1.0"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <workbookPr date1904="1"/>
  <sheets>
    <sheet name="Raumliste" sheetId="1" r:id="rId1" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"/>
    <sheet name="Terminplan" sheetId="2" r:id="rId2" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"/>
  </sheets>
</workbook>`,
		"xl/_rels/workbook.xml.rels": `<?xml version="1.0"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet1.xml"/>
  <Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/worksheet" Target="worksheets/sheet2.xml"/>
</Relationships>`,
		"xl/worksheets/sheet1.xml": `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row r="1">
      <c r="A1" t="inlineStr"><is><t>Raum-Nr</t></is></c>
      <c r="B1" t="inlineStr"><is><t>Bezeichnung</t></is></c>
      <c r="C1" t="inlineStr"><is><t>Fläche (m²)</t></is></c>
    </row>
    <row r="2">
      <c r="A2" t="inlineStr"><is><t>R1.01</t></is></c>
      <c r="B2" t="inlineStr"><is><t>Büro Ost</t></is></c>
      <c r="C2"><v>24.5</v></c>
    </row>
    <row r="3">
      <c r="A3" t="inlineStr"><is><t>R1.02</t></is></c>
      <c r="B3" t="inlineStr"><is><t>Besprechung</t></is></c>
      <c r="C3"><v>31</v></c>
    </row>
  </sheetData>
</worksheet>`,
		"xl/worksheets/sheet2.xml": `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row r="1">
      <c r="A1" t="inlineStr"><is><t>Vorgang</t></is></c>
      <c r="B1" t="inlineStr"><is><t>Datum</t></is></c>
    </row>
    <row r="2">
      <c r="A2" t="inlineStr"><is><t>Abgabe Bauprojekt</t></is></c>
      <c r="B2"><v>45000</v></c>
    </row>
  </sheetData>
</worksheet>`,
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("creating %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("writing %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing archive: %v", err)
	}
	return buf.Bytes()
}

func TestExtract_Workbook(t *testing.T) {
	doc := &entity.Document{
		ID:   "doc-wb",
		Name: "Raumbuch_Lueftung_rev_B.xlsx",
		Data: buildWorkbook(t),
	}

	ext, err := New(nil).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if ext.Metadata.Format != "XLSX" {
		t.Errorf("Format = %q, want XLSX", ext.Metadata.Format)
	}
	if ext.Metadata.Sheets != 2 {
		t.Errorf("Sheets = %d, want 2", ext.Metadata.Sheets)
	}
	if ext.Metadata.Discipline != "lueftung" {
		t.Errorf("Discipline = %q, want lueftung", ext.Metadata.Discipline)
	}
	if ext.Metadata.Revision != "B" {
		t.Errorf("Revision = %q, want B", ext.Metadata.Revision)
	}

	if len(ext.Spaces) != 2 {
		t.Fatalf("got %d spaces, want 2", len(ext.Spaces))
	}
	s := ext.Spaces[0]
	if got, _ := s.AreaM2.Get(); got != 24.5 {
		t.Errorf("AreaM2 = %v, want 24.5", got)
	}
	if len(s.Sources) == 0 {
		t.Fatal("space has no sources")
	}
	src := s.Sources[0]
	if src.File != doc.Name || src.DocumentID != doc.ID {
		t.Errorf("source carries %q/%q, want document name and id", src.File, src.DocumentID)
	}
	if src.Sheet != "Raumliste" || src.Row != 2 || src.Kind != entity.SourceTable {
		t.Errorf("source = %+v, want Raumliste row 2 kind tabelle", src)
	}

	// The 1904 epoch shifts serial 45000 from 2023 into 2027.
	if len(ext.Schedule) != 1 {
		t.Fatalf("got %d schedule items, want 1", len(ext.Schedule))
	}
	if got, _ := ext.Schedule[0].Date.Get(); got != "2027-03-16" {
		t.Errorf("Date = %q, want 2027-03-16", got)
	}

	if err := ext.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestExtract_CSV(t *testing.T) {
	doc := &entity.Document{
		ID:   "doc-csv",
		Name: "raumliste.csv",
		Data: []byte("Raum-Nr;Bezeichnung;Fläche (m²)\r\nR1.01;Büro Ost;24,5\r\nR1.02;Besprechung;31,0\r\n"),
	}

	ext, err := New(nil).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if ext.Metadata.Format != "CSV" {
		t.Errorf("Format = %q, want CSV", ext.Metadata.Format)
	}
	if len(ext.Spaces) != 2 {
		t.Fatalf("got %d spaces, want 2", len(ext.Spaces))
	}
	s := ext.Spaces[1]
	if s.ID != "raum_r1_02" {
		t.Errorf("ID = %q, want raum_r1_02", s.ID)
	}
	if got, _ := s.AreaM2.Get(); got != 31.0 {
		t.Errorf("AreaM2 = %v, want 31", got)
	}
	if len(s.Sources) == 0 {
		t.Fatal("space has no sources")
	}
	if src := s.Sources[0]; src.Row != 3 {
		t.Errorf("source row = %d, want 3", src.Row)
	}
}

func TestExtract_FormatMismatch(t *testing.T) {
	// Spreadsheet content behind a .csv name: the content wins and the
	// mismatch surfaces as a warning.
	doc := &entity.Document{
		ID:   "doc-mm",
		Name: "liste.csv",
		Data: buildWorkbook(t),
	}

	ext, err := New(nil).Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if ext.Metadata.Format != "XLSX" {
		t.Errorf("Format = %q, want XLSX", ext.Metadata.Format)
	}
	if len(ext.Spaces) != 2 {
		t.Errorf("got %d spaces, want 2", len(ext.Spaces))
	}
	if !hasWarning(ext.Warnings, entity.WarnFormatMismatch) {
		t.Error("missing format mismatch warning")
	}
}

func TestExtract_Errors(t *testing.T) {
	e := New(nil)

	t.Run("unsupported format", func(t *testing.T) {
		doc := &entity.Document{Name: "plan.pdf", Data: []byte("%PDF-1.7 stub")}
		_, err := e.Extract(context.Background(), doc)
		if !errors.Is(err, entity.ErrUnsupportedFormat) {
			t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
		}
	})

	t.Run("malformed workbook", func(t *testing.T) {
		doc := &entity.Document{Name: "kaputt.xlsx", Data: []byte("not a workbook")}
		_, err := e.Extract(context.Background(), doc)
		if !errors.Is(err, entity.ErrMalformedDocument) {
			t.Errorf("Extract() error = %v, want ErrMalformedDocument", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		doc := &entity.Document{Name: "raumbuch.xlsx", Data: buildWorkbook(t)}
		_, err := e.Extract(ctx, doc)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Extract() error = %v, want context.Canceled", err)
		}
	})
}
