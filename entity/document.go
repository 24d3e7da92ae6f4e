package entity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Document is a source file handed to the pipeline: raw bytes plus the
// declared metadata the router needs to pick an extractor.
type Document struct {
	ID        string
	Name      string
	MediaType string
	Project   string
	Data      []byte
}

// NewDocument wraps raw bytes as a document. The id is generated.
func NewDocument(name string, data []byte) *Document {
	return &Document{
		ID:   uuid.NewString(),
		Name: filepath.Base(name),
		Data: data,
	}
}

// OpenDocument reads a file from disk into a document.
func OpenDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return NewDocument(path, data), nil
}

// Ref starts a source reference for this document. Extractors fill in
// their locator fields.
func (d *Document) Ref(kind string) SourceRef {
	return SourceRef{File: d.Name, DocumentID: d.ID, Kind: kind}
}
