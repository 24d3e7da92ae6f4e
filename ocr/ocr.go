// Package ocr recognizes text in scanned plans and photographed documents.
//
// The package wraps the Tesseract engine via gosseract behind the "ocr"
// build tag; without the tag, NewEngine returns ErrNotEnabled and callers
// degrade gracefully. Tesseract must be installed on the system. On macOS,
// install via:
//
//	brew install tesseract tesseract-lang
//
// On Ubuntu/Debian:
//
//	apt-get install tesseract-ocr tesseract-ocr-deu
//
// Recognition is layout-preserving: every word carries its bounding box and
// confidence, words are assembled into lines by vertical position, and lines
// whose words fall into clearly separated columns can be read back as table
// rows.
package ocr

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/tsawler/aedile/entity"
)

// ErrNotEnabled is returned by NewEngine when the binary was built without
// the "ocr" tag. The Tesseract binding needs cgo and the C library, so it is
// opt-in; rebuild with -tags ocr to enable recognition.
var ErrNotEnabled = errors.New("ocr: support not enabled, rebuild with -tags ocr")

// Engine recognizes the text in a single image. Implementations must be safe
// for concurrent use.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (*Result, error)
}

// Options configure the Tesseract engine.
type Options struct {
	// Language is the Tesseract language string, plus-separated for
	// multiple models ("deu+eng").
	Language string

	// PageSegMode is the Tesseract page segmentation mode. Mode 6 treats
	// the page as a single uniform block of text, which suits drawing
	// legends and scanned lists better than full automatic layout analysis.
	PageSegMode int

	// Preprocess runs the image cleanup chain (grayscale, contrast
	// stretch, binarization) before recognition.
	Preprocess bool
}

// DefaultOptions returns the settings used by the extraction pipeline:
// German plus English models, single-block segmentation, preprocessing on.
func DefaultOptions() Options {
	return Options{
		Language:    "deu+eng",
		PageSegMode: 6,
		Preprocess:  true,
	}
}

// Word is a single recognized token. Box coordinates are image pixels with
// the origin at the top left; Confidence is normalized to 0..1.
type Word struct {
	Text       string
	Box        entity.BBox
	Confidence float64
}

// Line is a left-to-right run of words sharing a baseline.
type Line struct {
	Words []Word
	Box   entity.BBox
}

// Text joins the words of the line with single spaces.
func (l Line) Text() string {
	parts := make([]string, 0, len(l.Words))
	for _, w := range l.Words {
		parts = append(parts, w.Text)
	}
	return strings.Join(parts, " ")
}

// Confidence returns the mean confidence of the line's words.
func (l Line) Confidence() float64 {
	if len(l.Words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range l.Words {
		sum += w.Confidence
	}
	return sum / float64(len(l.Words))
}

// Result is the outcome of recognizing one image.
type Result struct {
	// PlainText is the recognized text with layout line breaks.
	PlainText string

	// Words are all recognized tokens in recognition order.
	Words []Word

	// Lines are the words assembled top to bottom, left to right.
	Lines []Line
}

// NewResult assembles recognized words into lines ordered top to bottom.
// Words are grouped by vertical center: a word joins the current line while
// its center lies within half the median word height of the line anchor.
// When plainText is empty it is rebuilt from the assembled lines, so fake
// engines only need to supply words.
func NewResult(plainText string, words []Word) *Result {
	r := &Result{
		PlainText: strings.TrimSpace(plainText),
		Words:     words,
		Lines:     assembleLines(words),
	}
	if r.PlainText == "" && len(r.Lines) > 0 {
		texts := make([]string, 0, len(r.Lines))
		for _, l := range r.Lines {
			texts = append(texts, l.Text())
		}
		r.PlainText = strings.Join(texts, "\n")
	}
	return r
}

// Rows reads the lines back as table rows: adjacent words merge into one
// cell while the horizontal gap between them stays below the median word
// height, and only lines with at least two cells qualify. Scanned room and
// device lists surface here with their column structure intact.
func (r *Result) Rows() [][]string {
	gap := medianHeight(r.Words)
	if gap <= 0 {
		gap = 1
	}
	var rows [][]string
	for _, line := range r.Lines {
		cells := splitCells(line.Words, gap)
		if len(cells) >= 2 {
			rows = append(rows, cells)
		}
	}
	return rows
}

func assembleLines(words []Word) []Line {
	if len(words) == 0 {
		return nil
	}
	h := medianHeight(words)
	if h <= 0 {
		h = 1
	}

	sorted := make([]Word, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Box.Center().Y < sorted[j].Box.Center().Y
	})

	var lines []Line
	var current []Word
	var anchor float64
	for _, w := range sorted {
		cy := w.Box.Center().Y
		if len(current) > 0 && math.Abs(cy-anchor) > h/2 {
			lines = append(lines, newLine(current))
			current = nil
		}
		if len(current) == 0 {
			anchor = cy
		}
		current = append(current, w)
	}
	lines = append(lines, newLine(current))
	return lines
}

func newLine(words []Word) Line {
	sort.SliceStable(words, func(i, j int) bool {
		return words[i].Box.Left() < words[j].Box.Left()
	})
	box := words[0].Box
	for _, w := range words[1:] {
		box = box.Union(w.Box)
	}
	return Line{Words: words, Box: box}
}

func splitCells(words []Word, gap float64) []string {
	var cells []string
	var cell []string
	var right float64
	for i, w := range words {
		if i > 0 && w.Box.Left()-right > gap {
			cells = append(cells, strings.Join(cell, " "))
			cell = cell[:0]
		}
		cell = append(cell, w.Text)
		if r := w.Box.Right(); r > right {
			right = r
		}
	}
	if len(cell) > 0 {
		cells = append(cells, strings.Join(cell, " "))
	}
	return cells
}

func medianHeight(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	heights := make([]float64, 0, len(words))
	for _, w := range words {
		heights = append(heights, w.Box.Height)
	}
	sort.Float64s(heights)
	mid := len(heights) / 2
	if len(heights)%2 == 0 {
		return (heights[mid-1] + heights[mid]) / 2
	}
	return heights[mid]
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
