// Package format detects document formats and classifies project files.
// Detection combines filename extension, magic bytes and ZIP content
// inspection; classification reads plan type, discipline and revision
// hints out of construction-drawing filenames.
package format

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tsawler/aedile/entity"
)

// Format represents a supported document format.
type Format int

const (
	// Unknown indicates an unrecognized format.
	Unknown Format = iota
	// PDF indicates a PDF document (plans and drawings).
	PDF
	// DOCX indicates a Microsoft Word (.docx) document.
	DOCX
	// ODT indicates an OpenDocument Text (.odt) document.
	ODT
	// XLSX indicates a Microsoft Excel (.xlsx) document.
	XLSX
	// CSV indicates a comma/semicolon separated table.
	CSV
	// IFC indicates an ISO-10303-21 building model.
	IFC
	// Image indicates a raster image (scans and photos).
	Image
)

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case PDF:
		return "PDF"
	case DOCX:
		return "DOCX"
	case ODT:
		return "ODT"
	case XLSX:
		return "XLSX"
	case CSV:
		return "CSV"
	case IFC:
		return "IFC"
	case Image:
		return "Image"
	default:
		return "Unknown"
	}
}

// Extension returns the typical file extension for the format.
func (f Format) Extension() string {
	switch f {
	case PDF:
		return ".pdf"
	case DOCX:
		return ".docx"
	case ODT:
		return ".odt"
	case XLSX:
		return ".xlsx"
	case CSV:
		return ".csv"
	case IFC:
		return ".ifc"
	case Image:
		return ".png"
	default:
		return ""
	}
}

// Detect determines file format from the filename extension.
func Detect(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return PDF
	case ".docx":
		return DOCX
	case ".odt":
		return ODT
	case ".xlsx", ".xlsm":
		return XLSX
	case ".csv":
		return CSV
	case ".ifc":
		return IFC
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp":
		return Image
	default:
		return Unknown
	}
}

// DetectFromMagic checks content bytes to determine format. ZIP containers
// are opened and inspected, so DOCX, XLSX and ODT are told apart. Returns
// Unknown if the content is not conclusive (CSV has no magic).
func DetectFromMagic(data []byte) Format {
	if len(data) < 4 {
		return Unknown
	}

	// PDF magic: %PDF
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return PDF
	}

	// ZIP container: PK\x03\x04
	if data[0] == 0x50 && data[1] == 0x4B && data[2] == 0x03 && data[3] == 0x04 {
		return detectZIPFormat(data)
	}

	// STEP physical file: ISO-10303-21 header, possibly after BOM/whitespace
	if isSTEPMagic(data) {
		return IFC
	}

	if f := detectImageMagic(data); f != Unknown {
		return f
	}

	return Unknown
}

// DetectDocument resolves the format of a document, combining extension
// and content. Content wins on disagreement; the mismatch is reported so
// callers can record a warning. Empty documents are malformed and documents
// neither detector recognizes are unsupported.
func DetectDocument(doc *entity.Document) (Format, bool, error) {
	if len(doc.Data) == 0 {
		return Unknown, false, fmt.Errorf("%s: empty document: %w", doc.Name, entity.ErrMalformedDocument)
	}

	byExt := Detect(doc.Name)
	byMagic := DetectFromMagic(doc.Data)

	switch {
	case byMagic == Unknown && byExt == Unknown:
		return Unknown, false, fmt.Errorf("%s: %w", doc.Name, entity.ErrUnsupportedFormat)
	case byMagic == Unknown:
		return byExt, false, nil
	case byExt == Unknown || byExt == byMagic:
		return byMagic, false, nil
	default:
		// Extension and content disagree. Trust the content.
		return byMagic, true, nil
	}
}

// detectZIPFormat inspects a ZIP archive to tell DOCX, XLSX and ODT apart.
func detectZIPFormat(data []byte) Format {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Unknown
	}

	// OpenDocument archives carry a mimetype file at the start.
	for _, f := range zr.File {
		if f.Name == "mimetype" {
			rc, err := f.Open()
			if err != nil {
				continue
			}
			buf := make([]byte, 256)
			n, _ := rc.Read(buf)
			rc.Close()
			if strings.Contains(string(buf[:n]), "application/vnd.oasis.opendocument.text") {
				return ODT
			}
		}
	}

	for _, f := range zr.File {
		switch {
		case strings.HasPrefix(f.Name, "word/"):
			return DOCX
		case strings.HasPrefix(f.Name, "xl/"):
			return XLSX
		}
	}

	return Unknown
}

// isSTEPMagic checks for the ISO-10303-21 header that opens IFC files.
func isSTEPMagic(data []byte) bool {
	head := data
	if len(head) > 256 {
		head = head[:256]
	}
	// Skip UTF-8 BOM and leading whitespace.
	head = bytes.TrimPrefix(head, []byte{0xEF, 0xBB, 0xBF})
	head = bytes.TrimLeft(head, " \t\r\n")
	return bytes.HasPrefix(head, []byte("ISO-10303-21"))
}

// detectImageMagic recognizes the raster formats the OCR subsystem decodes.
func detectImageMagic(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte{0x89, 'P', 'N', 'G'}):
		return Image
	case bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}):
		return Image // JPEG
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return Image // TIFF
	case bytes.HasPrefix(data, []byte("BM")) && len(data) >= 14:
		return Image // BMP
	default:
		return Unknown
	}
}
