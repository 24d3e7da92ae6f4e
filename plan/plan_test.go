package plan

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tsawler/aedile/entity"
	"github.com/tsawler/aedile/ocr"
)

func vectorSpan(text string, x, y float64) TextSpan {
	return TextSpan{Text: text, Pos: entity.Point{X: x, Y: y}, Confidence: 1}
}

func testCollector(e *Extractor, name string) (*collector, *entity.Extraction) {
	doc := &entity.Document{ID: "d1", Name: name, Data: []byte("x")}
	ext := entity.NewExtraction(doc, "PDF")
	return newCollector(e, ext, doc), ext
}

func findSpace(t *testing.T, ext *entity.Extraction, id string) *entity.Space {
	t.Helper()
	for _, s := range ext.Spaces {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("space %q not in extraction", id)
	return nil
}

func findDevice(t *testing.T, ext *entity.Extraction, id string) *entity.Device {
	t.Helper()
	for _, d := range ext.Devices {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("device %q not in extraction", id)
	return nil
}

func TestAnalyzePageAssociations(t *testing.T) {
	e := New(nil)
	col, ext := testCollector(e, "grundriss_eg.pdf")

	spans := []TextSpan{
		vectorSpan("R 101", 100, 700),
		vectorSpan("24,5 m²", 105, 680),
		vectorSpan("R 102", 400, 700),
		vectorSpan("26,0 m²", 405, 680),
		vectorSpan("ZL-01", 110, 650),
		vectorSpan("VENT-01", 115, 652),
		vectorSpan("LÜA 1", 200, 600),
	}
	e.analyzePage(col, 1, spans, entity.SourceText)

	if len(ext.Spaces) != 2 || len(ext.Devices) != 2 || len(ext.Plants) != 1 {
		t.Fatalf("got %d spaces, %d devices, %d plants, want 2, 2, 1",
			len(ext.Spaces), len(ext.Devices), len(ext.Plants))
	}

	s101 := findSpace(t, ext, "raum_101")
	if nr, _ := s101.Number.Get(); nr != "101" {
		t.Errorf("space number = %q, want 101", nr)
	}
	if _, ok := s101.Name.Get(); ok {
		t.Error("space name should stay unset for plan labels")
	}
	if area, ok := s101.AreaM2.Get(); !ok || area != 24.5 {
		t.Errorf("space 101 area = %v, %v, want 24.5, true", area, ok)
	}
	if area, _ := findSpace(t, ext, "raum_102").AreaM2.Get(); area != 26 {
		t.Errorf("space 102 area = %v, want 26", area)
	}
	if len(s101.Sources) == 0 {
		t.Fatal("space 101 has no sources")
	}
	src := s101.Sources[0]
	if src.Kind != entity.SourceText || src.Page != 1 {
		t.Errorf("space source = kind %q page %d, want text page 1", src.Kind, src.Page)
	}

	vent := findDevice(t, ext, "geraet_vent_01")
	if room, _ := vent.Space.Get(); room != "101" {
		t.Errorf("VENT-01 room = %q, want 101", room)
	}
	if vent.Unconfirmed {
		t.Error("VENT-01 should be confirmed at confidence 0.75")
	}
	if kind, _ := vent.Kind.Get(); kind != "ventilator" {
		t.Errorf("VENT-01 kind = %q, want ventilator", kind)
	}

	// Outlet marks carry base confidence 0.6, below the 0.7 threshold.
	zl := findDevice(t, ext, "geraet_zl_01")
	if !zl.Unconfirmed {
		t.Error("ZL-01 should be unconfirmed")
	}

	plant := ext.Plants[0]
	if plant.ID != "anlage_luea_1" {
		t.Fatalf("plant id = %q, want anlage_luea_1", plant.ID)
	}
	if plant.Unconfirmed {
		t.Error("plant should be confirmed at confidence 0.8")
	}
	for _, want := range []string{"ZL-01", "VENT-01"} {
		found := false
		for _, d := range plant.Devices {
			if d == want {
				found = true
			}
		}
		if !found {
			t.Errorf("plant devices = %v, missing %q", plant.Devices, want)
		}
	}
	if len(plant.Spaces) != 1 || plant.Spaces[0] != "101" {
		t.Errorf("plant spaces = %v, want [101]", plant.Spaces)
	}
	if pn, _ := vent.Plant.Get(); pn != "LÜA 1" {
		t.Errorf("VENT-01 plant = %q, want LÜA 1", pn)
	}

	if err := ext.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestAnalyzePageContestedArea(t *testing.T) {
	e := New(nil)
	col, ext := testCollector(e, "grundriss.pdf")

	e.analyzePage(col, 1, []TextSpan{
		vectorSpan("R 201", 10, 100),
		vectorSpan("24 m²", 12, 90),
	}, entity.SourceText)
	e.analyzePage(col, 2, []TextSpan{
		vectorSpan("R 201", 10, 100),
		vectorSpan("26 m²", 12, 90),
	}, entity.SourceText)

	s := findSpace(t, ext, "raum_201")
	if !s.AreaM2.IsContested() {
		t.Fatal("area should be contested after disagreeing pages")
	}
	variants := s.AreaM2.Variants()
	if len(variants) != 2 {
		t.Fatalf("got %d variants, want 2", len(variants))
	}
	if variants[0].Value != 24 || variants[1].Value != 26 {
		t.Errorf("variants = %v, %v, want 24, 26", variants[0].Value, variants[1].Value)
	}
}

func TestAnalyzePageAgreeingAreaStaysResolved(t *testing.T) {
	e := New(nil)
	col, ext := testCollector(e, "grundriss.pdf")

	e.analyzePage(col, 1, []TextSpan{
		vectorSpan("R 301", 10, 100),
		vectorSpan("24,5 m²", 12, 90),
		vectorSpan("Fläche: 24,5", 12, 80),
	}, entity.SourceText)

	s := findSpace(t, ext, "raum_301")
	if s.AreaM2.IsContested() {
		t.Fatal("agreeing observations must not contest the area")
	}
	if area, ok := s.AreaM2.Get(); !ok || area != 24.5 {
		t.Errorf("area = %v, %v, want 24.5, true", area, ok)
	}
}

func TestAnalyzePageOrphanArea(t *testing.T) {
	e := New(nil)
	col, ext := testCollector(e, "grundriss.pdf")

	e.analyzePage(col, 1, []TextSpan{vectorSpan("99,9 m²", 10, 10)}, entity.SourceText)

	if len(ext.Spaces) != 0 {
		t.Fatalf("got %d spaces, want 0", len(ext.Spaces))
	}
	if len(ext.Warnings) != 1 || ext.Warnings[0].Code != entity.WarnLowConfidence {
		t.Fatalf("warnings = %+v, want one low_confidence", ext.Warnings)
	}
}

func TestCollectorPageFailed(t *testing.T) {
	e := New(nil)
	col, ext := testCollector(e, "grundriss.pdf")

	col.pageFailed(3, "Seiteninhalt nicht lesbar: kaputt")

	if len(ext.Warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(ext.Warnings))
	}
	w := ext.Warnings[0]
	if w.Code != entity.WarnPageFailed {
		t.Errorf("code = %q, want %q", w.Code, entity.WarnPageFailed)
	}
	if !strings.Contains(w.Message, "Seite 3") {
		t.Errorf("message = %q, want page number", w.Message)
	}
	if w.Source == nil || w.Source.Page != 3 {
		t.Errorf("source = %+v, want page 3", w.Source)
	}
}

func TestLowConfidenceSpansMarkUnconfirmed(t *testing.T) {
	e := New(nil)
	col, ext := testCollector(e, "grundriss.pdf")

	// An OCR line at confidence 0.5 drags VENT below the threshold.
	spans := []TextSpan{{Text: "VENT-07", Pos: entity.Point{X: 10, Y: 10}, Confidence: 0.5}}
	e.analyzePage(col, 1, spans, entity.SourceOCR)

	d := findDevice(t, ext, "geraet_vent_07")
	if !d.Unconfirmed {
		t.Error("device from a weak OCR line should be unconfirmed")
	}
}

func TestAnonymousHitsGetDistinctNames(t *testing.T) {
	e := New(nil)
	col, ext := testCollector(e, "grundriss.pdf")

	e.analyzePage(col, 2, []TextSpan{
		vectorSpan("R 401", 0, 0),
		vectorSpan("Zuluft", 5, 5),
		vectorSpan("Zuluft", 50, 50),
	}, entity.SourceText)

	if len(ext.Devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(ext.Devices))
	}
	n0, _ := ext.Devices[0].Name.Get()
	n1, _ := ext.Devices[1].Name.Get()
	if n0 == n1 {
		t.Errorf("anonymous devices share the name %q", n0)
	}
	if n0 != "Lüftungsauslass 2.1" {
		t.Errorf("first anonymous name = %q, want Lüftungsauslass 2.1", n0)
	}
}

type fakeRecognizer struct {
	cands []Candidate
}

func (f fakeRecognizer) Recognize(page int, spans []TextSpan) []Candidate {
	return f.cands
}

func TestWithRecognizer(t *testing.T) {
	extra := fakeRecognizer{cands: []Candidate{{
		Kind:       kindDevice,
		Symbol:     "brandklappe",
		Display:    "Brandschutzklappe",
		Token:      "BSK-1",
		Number:     "1",
		Pos:        entity.Point{X: 1, Y: 1},
		Confidence: 0.9,
	}}}
	e := New(nil, WithRecognizer(extra))
	col, ext := testCollector(e, "grundriss.pdf")

	e.analyzePage(col, 1, []TextSpan{vectorSpan("R 1", 0, 0)}, entity.SourceText)

	d := findDevice(t, ext, "geraet_bsk_1")
	if kind, _ := d.Kind.Get(); kind != "brandklappe" {
		t.Errorf("kind = %q, want brandklappe", kind)
	}
	if d.Unconfirmed {
		t.Error("candidate at 0.9 should be confirmed")
	}
}

type fakeEngine struct {
	res *ocr.Result
	err error
}

func (f fakeEngine) Recognize(ctx context.Context, image []byte) (*ocr.Result, error) {
	return f.res, f.err
}

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

func scanResult() *ocr.Result {
	return ocr.NewResult("", []ocr.Word{
		{Text: "R", Box: entity.NewBBox(10, 10, 20, 20), Confidence: 0.95},
		{Text: "101", Box: entity.NewBBox(35, 12, 30, 18), Confidence: 0.95},
		{Text: "24,5", Box: entity.NewBBox(10, 50, 40, 20), Confidence: 0.9},
		{Text: "m²", Box: entity.NewBBox(55, 50, 25, 20), Confidence: 0.9},
	})
}

func TestExtractImage(t *testing.T) {
	e := New(nil, WithEngine(fakeEngine{res: scanResult()}))
	doc := &entity.Document{
		ID:   "d9",
		Name: "grundriss_lueftung_eg_scan.png",
		Data: append(pngMagic, make([]byte, 64)...),
	}

	ext, err := e.Extract(context.Background(), doc)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if !ext.Metadata.IsPlan || ext.Metadata.Pages != 1 {
		t.Errorf("metadata = %+v, want plan with 1 page", ext.Metadata)
	}
	if ext.Metadata.Discipline != "lueftung" {
		t.Errorf("discipline = %q, want lueftung", ext.Metadata.Discipline)
	}

	s := findSpace(t, ext, "raum_101")
	if area, ok := s.AreaM2.Get(); !ok || area != 24.5 {
		t.Errorf("area = %v, %v, want 24.5, true", area, ok)
	}
	if len(s.Sources) == 0 {
		t.Fatal("space has no sources")
	}
	src := s.Sources[0]
	if src.Kind != entity.SourceOCR || src.Page != 1 || src.Region == nil {
		t.Errorf("source = %+v, want ocr ref with page and region", src)
	}
}

func TestExtractImageEngineError(t *testing.T) {
	e := New(nil, WithEngine(fakeEngine{err: errors.New("no text")}))
	doc := &entity.Document{
		Name: "scan.png",
		Data: append(pngMagic, make([]byte, 16)...),
	}

	_, err := e.Extract(context.Background(), doc)
	if !errors.Is(err, entity.ErrMalformedDocument) {
		t.Errorf("Extract() error = %v, want ErrMalformedDocument", err)
	}
}

func TestExtractImageCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(nil, WithEngine(fakeEngine{err: ctx.Err()}))
	doc := &entity.Document{
		Name: "scan.png",
		Data: append(pngMagic, make([]byte, 16)...),
	}

	_, err := e.Extract(ctx, doc)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Extract() error = %v, want context.Canceled", err)
	}
}

func TestExtractRejectsOtherFormats(t *testing.T) {
	e := New(nil)
	doc := &entity.Document{
		Name: "modell.ifc",
		Data: []byte("ISO-10303-21;\nHEADER;\nENDSEC;\nEND-ISO-10303-21;"),
	}

	_, err := e.Extract(context.Background(), doc)
	if !errors.Is(err, entity.ErrUnsupportedFormat) {
		t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestFormats(t *testing.T) {
	got := New(nil).Formats()
	if len(got) != 2 {
		t.Fatalf("Formats() = %v, want PDF and Image", got)
	}
}
