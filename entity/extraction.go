package entity

import "fmt"

// RawTable preserves a sheet or document table exactly as read, independent
// of whether it was classified into entities. Nothing tabular is lost.
type RawTable struct {
	Name    string     `json:"name,omitempty"`
	Headers []string   `json:"spalten"`
	Rows    [][]string `json:"zeilen"`
	Source  SourceRef  `json:"quelle"`
}

// TextBlock is unstructured text with its locator, collected for later
// free-text processing.
type TextBlock struct {
	Text   string    `json:"text"`
	Source SourceRef `json:"quelle"`
}

// Metadata describes the processed document.
type Metadata struct {
	Format     string `json:"format"`
	Discipline string `json:"disziplin,omitempty"`
	Revision   string `json:"revision,omitempty"`
	IsPlan     bool   `json:"plan,omitempty"`
	Schema     string `json:"schema,omitempty"` // model schema version (IFC2X3, IFC4)
	Pages      int    `json:"seiten,omitempty"`
	Sheets     int    `json:"blaetter,omitempty"`
	Paragraphs int    `json:"absaetze,omitempty"`
}

// Extraction is the result of running one extractor over one document:
// entities partitioned by type, preserved raw tables and free text, document
// metadata and non-fatal warnings.
type Extraction struct {
	DocumentID string `json:"datei_id,omitempty"`
	File       string `json:"datei"`

	Spaces       []*Space        `json:"raeume"`
	Plants       []*Plant        `json:"anlagen"`
	Devices      []*Device       `json:"geraete"`
	Requirements []*Requirement  `json:"anforderungen"`
	Schedule     []*ScheduleItem `json:"termine"`
	Services     []*ServiceItem  `json:"leistungen"`

	RawTables []RawTable  `json:"rohtabellen,omitempty"`
	FullText  []TextBlock `json:"volltext,omitempty"`
	Metadata  Metadata    `json:"metadaten"`
	Warnings  []Warning   `json:"warnungen,omitempty"`
}

// NewExtraction creates an empty extraction for a document.
func NewExtraction(doc *Document, format string) *Extraction {
	return &Extraction{
		DocumentID:   doc.ID,
		File:         doc.Name,
		Spaces:       []*Space{},
		Plants:       []*Plant{},
		Devices:      []*Device{},
		Requirements: []*Requirement{},
		Schedule:     []*ScheduleItem{},
		Services:     []*ServiceItem{},
		Metadata:     Metadata{Format: format},
	}
}

// Warn records a non-fatal finding.
func (x *Extraction) Warn(code, message string, src *SourceRef) {
	x.Warnings = append(x.Warnings, Warning{Code: code, Message: message, Source: src})
}

// Entities returns all entities across partitions.
func (x *Extraction) Entities() []Entity {
	out := make([]Entity, 0, x.EntityCount())
	for _, e := range x.Spaces {
		out = append(out, e)
	}
	for _, e := range x.Plants {
		out = append(out, e)
	}
	for _, e := range x.Devices {
		out = append(out, e)
	}
	for _, e := range x.Requirements {
		out = append(out, e)
	}
	for _, e := range x.Schedule {
		out = append(out, e)
	}
	for _, e := range x.Services {
		out = append(out, e)
	}
	return out
}

// EntityCount returns the number of entities across partitions.
func (x *Extraction) EntityCount() int {
	return len(x.Spaces) + len(x.Plants) + len(x.Devices) +
		len(x.Requirements) + len(x.Schedule) + len(x.Services)
}

// Validate checks the source invariant: every entity carries at least one
// source reference. The first violation is returned as an error.
func (x *Extraction) Validate() error {
	for _, e := range x.Entities() {
		if len(e.SourceRefs()) == 0 {
			return fmt.Errorf("%s %q: %w", e.TypeName(), e.EntityID(), ErrMissingSource)
		}
	}
	return nil
}
