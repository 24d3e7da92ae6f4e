//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/tsawler/aedile/entity"
)

// tesseract runs recognition through gosseract. A fresh client is created
// and closed per call, so one engine value can be shared across goroutines.
type tesseract struct {
	opts Options
}

// NewEngine returns a Tesseract-backed Engine.
func NewEngine(opts Options) (Engine, error) {
	if opts.Language == "" {
		opts.Language = DefaultOptions().Language
	}
	return &tesseract{opts: opts}, nil
}

// Recognize runs OCR on a single image and returns the recognized text with
// word-level bounding boxes and confidences.
func (t *tesseract) Recognize(ctx context.Context, img []byte) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.opts.Preprocess {
		cleaned, err := Preprocess(img)
		if err != nil {
			return nil, fmt.Errorf("preprocess image: %w", err)
		}
		img = cleaned
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(strings.Split(t.opts.Language, "+")...); err != nil {
		return nil, fmt.Errorf("set language %q: %w", t.opts.Language, err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(t.opts.PageSegMode)); err != nil {
		return nil, fmt.Errorf("set page segmentation mode %d: %w", t.opts.PageSegMode, err)
	}
	if err := client.SetImageFromBytes(img); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("read word boxes: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := make([]Word, 0, len(boxes))
	for _, b := range boxes {
		token := strings.TrimSpace(b.Word)
		if token == "" {
			continue
		}
		words = append(words, Word{
			Text: token,
			Box: entity.NewBBox(
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Dx()), float64(b.Box.Dy()),
			),
			Confidence: clamp01(b.Confidence / 100),
		})
	}
	return NewResult(text, words), nil
}
