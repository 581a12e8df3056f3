package export

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ThumbnailMaxDimension bounds the longer side of a bundle thumbnail.
const ThumbnailMaxDimension = 320

// Thumbnail decodes a PNG, JPEG, GIF or WebP image and returns a JPEG no
// larger than maxDimension on either side, preserving aspect ratio.
func Thumbnail(data []byte, maxDimension int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := thumbnailDimensions(bounds.Dx(), bounds.Dy(), maxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	log.Debug().
		Str("format", format).
		Int("origWidth", bounds.Dx()).
		Int("origHeight", bounds.Dy()).
		Int("width", w).
		Int("height", h).
		Int("bytes", buf.Len()).
		Msg("Thumbnail generated")
	return buf.Bytes(), nil
}

// thumbnailDimensions scales (w, h) so the longer side is at most max.
// Images already within bounds keep their size.
func thumbnailDimensions(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return max(w, 1), max(h, 1)
	}
	if w >= h {
		return maxDim, max(h*maxDim/w, 1)
	}
	return max(w*maxDim/h, 1), maxDim
}
