// Package imageproc encodes decoded page images for object storage and
// builds the thumbnail variant the storage stage also uploads.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// Format is a page image's storage encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWEBP Format = "webp"
)

// ContentType returns the MIME type for a Format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Ext returns the file extension (without dot) for a Format.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatWEBP:
		return "webp"
	default:
		return "png"
	}
}

// Encode renders img in the requested format. quality is used for JPEG
// and WEBP (1-100) and ignored for PNG. JPEG has no alpha channel, so an
// RGBA or palette source is first composited onto a white background —
// otherwise transparent regions would turn black on decode.
func Encode(img image.Image, format Format, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, whiteComposite(img), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatWEBP:
		if err := webp.Encode(&buf, img, &webp.Options{Lossless: false, Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("encode webp: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// Thumbnail resizes img to the given width, preserving aspect ratio, and
// encodes it with Encode using the same format/quality as the full image.
func Thumbnail(img image.Image, width int, format Format, quality int) ([]byte, error) {
	if width <= 0 {
		width = 256
	}
	resized := imaging.Resize(img, width, 0, imaging.Lanczos)
	return Encode(resized, format, quality)
}

// whiteComposite flattens any alpha channel onto a white background.
func whiteComposite(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a == 0xffff {
				dst.Set(x, y, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 0xff})
				continue
			}
			// Alpha-blend over white: out = src*a + white*(1-a). RGBA()
			// returns alpha-premultiplied channels, so c already is src*a.
			af := float64(a) / 0xffff
			blend := func(c uint32) uint8 {
				cf := float64(c>>8) / 0xff
				return uint8((cf + (1 - af)) * 0xff)
			}
			dst.Set(x, y, color.RGBA{R: blend(r), G: blend(g), B: blend(b), A: 0xff})
		}
	}
	return dst
}
