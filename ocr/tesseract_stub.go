//go:build !ocr

package ocr

// NewEngine returns ErrNotEnabled when built without the "ocr" tag. Scanned
// pages then fail with a per-page warning while the rest of the extraction
// proceeds.
func NewEngine(Options) (Engine, error) {
	return nil, ErrNotEnabled
}
