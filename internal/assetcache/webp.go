package assetcache

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
)

// largeImageThreshold is the decoded pixel-area cutoff past which
// convertToWebP drops its reference to the original encoded bytes before
// re-encoding, so the input buffer isn't held alongside the decoded image
// and the WebP output buffer at the same time.
const largeImageThreshold = 5 * 1024 * 1024 // decoded bytes, approximated as width*height*4

// convertToWebP decodes an image of the given content type and re-encodes
// it losslessly as WebP. Animated GIFs decode only their first frame —
// image/gif's Decode (as opposed to DecodeAll) already does this, which is
// the documented limitation rather than something this function works
// around.
func convertToWebP(data []byte, contentType string) (out []byte, width, height int, err error) {
	reader := bytes.NewReader(data)

	var img image.Image
	switch contentType {
	case "image/jpeg", "image/jpg":
		img, err = jpeg.Decode(reader)
	case "image/png":
		img, err = png.Decode(reader)
	case "image/gif":
		img, err = gif.Decode(reader)
	case "image/webp":
		img, err = webp.Decode(reader)
	default:
		img, _, err = image.Decode(reader)
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()

	if width*height*4 > largeImageThreshold {
		// Large decode: release the encoded input before building the
		// output buffer instead of holding both alive simultaneously.
		data = nil
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, &webp.Options{Lossless: true}); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode webp: %w", err)
	}
	return buf.Bytes(), width, height, nil
}
