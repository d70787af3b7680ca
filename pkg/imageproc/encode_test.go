package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestEncode_PNG(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	data, err := Encode(img, FormatPNG, 0)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds().Dx() != 4 || decoded.Bounds().Dy() != 4 {
		t.Errorf("decoded bounds = %v, want 4x4", decoded.Bounds())
	}
}

func TestEncode_JPEG(t *testing.T) {
	img := solidImage(4, 4, color.RGBA{R: 200, G: 0, B: 0, A: 255})
	data, err := Encode(img, FormatJPEG, 90)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
}

func TestEncode_JPEG_FlattensTransparency(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{R: 0, G: 0, B: 0, A: 0})
	data, err := Encode(img, FormatJPEG, 90)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	r, g, b, _ := decoded.At(0, 0).RGBA()
	if r>>8 < 0xf0 || g>>8 < 0xf0 || b>>8 < 0xf0 {
		t.Errorf("expected fully transparent pixel to whiten out, got r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

func TestEncode_InvalidQualityFallsBackToDefault(t *testing.T) {
	img := solidImage(2, 2, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	if _, err := Encode(img, FormatJPEG, 0); err != nil {
		t.Errorf("Encode with quality=0 should fall back to default, got: %v", err)
	}
	if _, err := Encode(img, FormatJPEG, 200); err != nil {
		t.Errorf("Encode with quality=200 should fall back to default, got: %v", err)
	}
}

func TestThumbnail_ResizesPreservingAspectRatio(t *testing.T) {
	img := solidImage(100, 50, color.RGBA{R: 5, G: 5, B: 5, A: 255})
	data, err := Thumbnail(img, 40, FormatPNG, 0)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds().Dx() != 40 {
		t.Errorf("width = %d, want 40", decoded.Bounds().Dx())
	}
	if decoded.Bounds().Dy() != 20 {
		t.Errorf("height = %d, want 20 (aspect-preserved)", decoded.Bounds().Dy())
	}
}

func TestFormat_ContentTypeAndExt(t *testing.T) {
	cases := []struct {
		format      Format
		contentType string
		ext         string
	}{
		{FormatPNG, "image/png", "png"},
		{FormatJPEG, "image/jpeg", "jpg"},
		{FormatWEBP, "image/webp", "webp"},
	}
	for _, tc := range cases {
		if got := tc.format.ContentType(); got != tc.contentType {
			t.Errorf("%s.ContentType() = %q, want %q", tc.format, got, tc.contentType)
		}
		if got := tc.format.Ext(); got != tc.ext {
			t.Errorf("%s.Ext() = %q, want %q", tc.format, got, tc.ext)
		}
	}
}
