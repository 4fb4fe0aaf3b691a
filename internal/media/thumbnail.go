package media

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

// ThumbnailMaxDimension bounds the longer edge of library thumbnails.
const ThumbnailMaxDimension = 400

// Thumbnail decodes a JPEG, PNG, GIF or WebP image and returns a JPEG no
// larger than maxDim on its longer edge, along with the source dimensions.
// Images already within bounds are re-encoded without scaling.
func Thumbnail(data []byte, maxDim int) (thumb []byte, width, height int, err error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()

	newW, newH := fitWithin(width, height, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 80}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode thumbnail: %w", err)
	}

	log.Debug().
		Str("format", format).
		Int("width", width).
		Int("height", height).
		Int("thumbWidth", newW).
		Int("thumbHeight", newH).
		Int("bytes", buf.Len()).
		Msg("Thumbnail generated")
	return buf.Bytes(), width, height, nil
}

func fitWithin(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}
