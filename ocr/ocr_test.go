package ocr

import (
	"reflect"
	"testing"

	"github.com/tsawler/aedile/entity"
)

func word(text string, x, y, w, h float64) Word {
	return Word{Text: text, Box: entity.NewBBox(x, y, w, h), Confidence: 0.9}
}

func TestNewResultAssemblesLines(t *testing.T) {
	// Deliberately scrambled: assembly must sort by position, not input order.
	words := []Word{
		word("24,5", 200, 52, 40, 18),
		word("Raum", 10, 10, 40, 20),
		word("Fläche", 10, 50, 60, 20),
		word("101", 60, 12, 30, 20),
	}

	r := NewResult("", words)

	got := make([]string, 0, len(r.Lines))
	for _, l := range r.Lines {
		got = append(got, l.Text())
	}
	want := []string{"Raum 101", "Fläche 24,5"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("lines = %v, want %v", got, want)
	}
	if r.PlainText != "Raum 101\nFläche 24,5" {
		t.Errorf("PlainText = %q, want rebuilt line text", r.PlainText)
	}

	box := r.Lines[0].Box
	if box.Left() != 10 || box.Right() != 90 {
		t.Errorf("line box spans %v..%v, want 10..90", box.Left(), box.Right())
	}
}

func TestNewResultKeepsProvidedText(t *testing.T) {
	r := NewResult("  Vorhandener Text\n", []Word{word("anders", 0, 0, 10, 10)})
	if r.PlainText != "Vorhandener Text" {
		t.Errorf("PlainText = %q, want %q", r.PlainText, "Vorhandener Text")
	}
}

func TestNewResultEmpty(t *testing.T) {
	r := NewResult("", nil)
	if r.PlainText != "" {
		t.Errorf("PlainText = %q, want empty", r.PlainText)
	}
	if len(r.Lines) != 0 {
		t.Errorf("Lines = %v, want none", r.Lines)
	}
	if len(r.Rows()) != 0 {
		t.Errorf("Rows() = %v, want none", r.Rows())
	}
}

func TestLineConfidence(t *testing.T) {
	l := Line{Words: []Word{
		{Text: "a", Confidence: 0.75},
		{Text: "b", Confidence: 0.25},
	}}
	if got := l.Confidence(); got != 0.5 {
		t.Errorf("Confidence() = %v, want 0.5", got)
	}
	if got := (Line{}).Confidence(); got != 0 {
		t.Errorf("Confidence() on empty line = %v, want 0", got)
	}
}

func TestRows(t *testing.T) {
	// Two table rows plus a single-cell note line. Median word height is 20,
	// so gaps above 20 separate cells and the 5px gap inside "R 101" does not.
	words := []Word{
		word("Raum", 10, 10, 50, 20),
		word("Fläche", 200, 10, 60, 20),
		word("Nutzung", 400, 10, 70, 20),
		word("R", 10, 50, 15, 20),
		word("101", 30, 50, 30, 20),
		word("24,5", 200, 50, 40, 20),
		word("Büro", 400, 50, 45, 20),
		word("Hinweis", 10, 90, 70, 20),
	}

	r := NewResult("", words)
	got := r.Rows()
	want := [][]string{
		{"Raum", "Fläche", "Nutzung"},
		{"R 101", "24,5", "Büro"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Rows() = %v, want %v", got, want)
	}
}

func TestMedianHeight(t *testing.T) {
	if got := medianHeight(nil); got != 0 {
		t.Errorf("medianHeight(nil) = %v, want 0", got)
	}
	odd := []Word{word("a", 0, 0, 1, 10), word("b", 0, 0, 1, 30), word("c", 0, 0, 1, 20)}
	if got := medianHeight(odd); got != 20 {
		t.Errorf("medianHeight(odd) = %v, want 20", got)
	}
	even := []Word{word("a", 0, 0, 1, 10), word("b", 0, 0, 1, 20)}
	if got := medianHeight(even); got != 15 {
		t.Errorf("medianHeight(even) = %v, want 15", got)
	}
}
