package entity

import (
	"fmt"
	"strings"
)

// Source kinds describe how a value was obtained from a document.
const (
	SourceTable  = "tabelle"
	SourceText   = "text"
	SourceSymbol = "symbol"
	SourceOCR    = "ocr"
	SourceModel  = "modell"
)

// SourceRef locates a piece of extracted data inside its source document.
// Only the locator fields the producing extractor knows are set: sheet and
// row for tabular data, paragraph index for document text, page and region
// for plan drawings, the GlobalId for model data.
type SourceRef struct {
	File       string `json:"datei"`
	DocumentID string `json:"datei_id,omitempty"`

	// Tabular locators
	Sheet string `json:"blatt,omitempty"`
	Row   int    `json:"zeile,omitempty"` // 1-based
	Cell  string `json:"zelle,omitempty"` // A1-style reference

	// Document-text locators
	Paragraph int    `json:"absatz,omitempty"`  // 1-based
	Section   string `json:"abschnitt,omitempty"`
	Table     int    `json:"tabelle,omitempty"` // 1-based

	// Plan locators
	Page   int   `json:"seite,omitempty"` // 1-based
	Region *BBox `json:"region,omitempty"`

	// Model locators
	GlobalID string `json:"ifc_guid,omitempty"`
	Object   string `json:"objekt,omitempty"` // model class name

	// Kind describes how the value was obtained (tabelle, text, symbol, ocr, modell).
	Kind string `json:"typ,omitempty"`

	// Fields lists the entity fields this source contributed.
	Fields []string `json:"felder,omitempty"`
}

// SameLocation reports whether two refs point at the same place in the same
// document, ignoring the Fields annotation.
func (s SourceRef) SameLocation(o SourceRef) bool {
	return s.File == o.File &&
		s.Sheet == o.Sheet && s.Row == o.Row && s.Cell == o.Cell &&
		s.Paragraph == o.Paragraph && s.Table == o.Table &&
		s.Page == o.Page && s.GlobalID == o.GlobalID
}

// String renders a short human-readable locator for logs and warnings.
func (s SourceRef) String() string {
	var b strings.Builder
	b.WriteString(s.File)
	switch {
	case s.Sheet != "":
		fmt.Fprintf(&b, " Blatt %q", s.Sheet)
		if s.Row > 0 {
			fmt.Fprintf(&b, " Zeile %d", s.Row)
		}
		if s.Cell != "" {
			fmt.Fprintf(&b, " Zelle %s", s.Cell)
		}
	case s.Paragraph > 0:
		fmt.Fprintf(&b, " Absatz %d", s.Paragraph)
	case s.Table > 0:
		fmt.Fprintf(&b, " Tabelle %d", s.Table)
	case s.Page > 0:
		fmt.Fprintf(&b, " Seite %d", s.Page)
	case s.GlobalID != "":
		fmt.Fprintf(&b, " GUID %s", s.GlobalID)
	}
	return b.String()
}

// AddField records a contributed field name once.
func (s *SourceRef) AddField(name string) {
	for _, f := range s.Fields {
		if f == name {
			return
		}
	}
	s.Fields = append(s.Fields, name)
}

// CloneRefs deep-copies a source list, detaching the Fields and Region
// allocations so the copy can be annotated independently.
func CloneRefs(refs []SourceRef) []SourceRef {
	if refs == nil {
		return nil
	}
	out := make([]SourceRef, len(refs))
	for i, r := range refs {
		if r.Fields != nil {
			r.Fields = append([]string(nil), r.Fields...)
		}
		if r.Region != nil {
			b := *r.Region
			r.Region = &b
		}
		out[i] = r
	}
	return out
}
