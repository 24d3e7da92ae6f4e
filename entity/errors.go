package entity

import (
	"errors"
	"fmt"
)

// Fatal extraction errors. Each aborts processing of the offending file
// only; other files in a batch are unaffected.
var (
	// ErrUnsupportedFormat indicates no extractor handles the document format.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrMalformedDocument indicates the document could not be parsed.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrExtractionTimeout indicates extraction exceeded its time budget.
	ErrExtractionTimeout = errors.New("extraction timed out")
)

// ErrMissingSource indicates an entity without a source reference.
// Such entities are rejected, never silently dropped.
var ErrMissingSource = errors.New("entity has no source reference")

// ErrorKind names the fatal error category of err for file status
// reports. Unrecognized errors map to "Error".
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, ErrMalformedDocument):
		return "MalformedDocument"
	case errors.Is(err, ErrExtractionTimeout):
		return "ExtractionTimeout"
	case errors.Is(err, ErrMissingSource):
		return "MissingSource"
	}
	return "Error"
}

// FileError ties an extraction error to the document that caused it.
type FileError struct {
	File string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Warning codes for non-fatal findings embedded in extraction results.
const (
	WarnLowConfidence  = "low_confidence"
	WarnIncomplete     = "incomplete"
	WarnPageFailed     = "page_failed"
	WarnOCRUnavailable = "ocr_unavailable"
	WarnFormatMismatch = "format_mismatch"
	WarnSkipped        = "skipped"
)

// Warning is a non-fatal finding recorded during extraction or merge.
type Warning struct {
	Code    string     `json:"code"`
	Message string     `json:"meldung"`
	Source  *SourceRef `json:"quelle,omitempty"`
}

func (w Warning) String() string {
	if w.Source != nil {
		return fmt.Sprintf("[%s] %s (%s)", w.Code, w.Message, w.Source)
	}
	return fmt.Sprintf("[%s] %s", w.Code, w.Message)
}
