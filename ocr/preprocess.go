package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
)

// minDimension is the smallest edge length recognition works well with.
// Scans below it in both dimensions are doubled before thresholding so thin
// strokes survive.
const minDimension = 1200

// Preprocess prepares a scanned image for recognition: decode (PNG, JPEG,
// GIF, TIFF or BMP), convert to grayscale, stretch the contrast between the
// 2nd and 98th intensity percentiles, upscale small scans and binarize with
// an Otsu threshold. The result is PNG-encoded.
func Preprocess(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	gray := grayscale(src)
	stretchContrast(gray)
	gray = upscale(gray)
	binarize(gray, otsuThreshold(gray))

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), nil
}

func grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(gray, gray.Bounds(), src, b.Min, xdraw.Src)
	return gray
}

// stretchContrast remaps gray levels so the 2nd and 98th intensity
// percentiles span the full range. Faded scans regain separation between
// paper and ink without single outlier pixels dominating the mapping.
func stretchContrast(img *image.Gray) {
	hist := histogram(img)
	total := len(img.Pix)
	if total == 0 {
		return
	}
	lo := percentile(hist, total, 2)
	hi := percentile(hist, total, 98)
	if hi <= lo {
		return
	}
	scale := 255.0 / float64(hi-lo)
	for i, v := range img.Pix {
		switch {
		case int(v) <= lo:
			img.Pix[i] = 0
		case int(v) >= hi:
			img.Pix[i] = 255
		default:
			img.Pix[i] = uint8(float64(int(v)-lo)*scale + 0.5)
		}
	}
}

// upscale doubles scans that are small in both dimensions.
func upscale(img *image.Gray) *image.Gray {
	b := img.Bounds()
	if b.Dx() >= minDimension || b.Dy() >= minDimension {
		return img
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx()*2, b.Dy()*2))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// otsuThreshold picks the gray level that maximizes the between-class
// variance of the intensity histogram.
func otsuThreshold(img *image.Gray) uint8 {
	hist := histogram(img)
	total := len(img.Pix)
	if total == 0 {
		return 128
	}

	var sum float64
	for v, n := range hist {
		sum += float64(v) * float64(n)
	}

	var sumBack, weightBack float64
	best, bestVar := 128, -1.0
	for v, n := range hist {
		weightBack += float64(n)
		if weightBack == 0 {
			continue
		}
		weightFore := float64(total) - weightBack
		if weightFore == 0 {
			break
		}
		sumBack += float64(v) * float64(n)
		meanBack := sumBack / weightBack
		meanFore := (sum - sumBack) / weightFore
		diff := meanBack - meanFore
		between := weightBack * weightFore * diff * diff
		if between > bestVar {
			bestVar = between
			best = v
		}
	}
	return uint8(best)
}

func binarize(img *image.Gray, threshold uint8) {
	for i, v := range img.Pix {
		if v > threshold {
			img.Pix[i] = 255
		} else {
			img.Pix[i] = 0
		}
	}
}

func histogram(img *image.Gray) [256]int {
	var hist [256]int
	for _, v := range img.Pix {
		hist[v]++
	}
	return hist
}

func percentile(hist [256]int, total, pct int) int {
	target := total * pct / 100
	sum := 0
	for v, n := range hist {
		sum += n
		if sum >= target {
			return v
		}
	}
	return 255
}
