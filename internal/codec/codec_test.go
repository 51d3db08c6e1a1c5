package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"imgbatch/internal/format"
	"imgbatch/internal/resize"
)

func paletted(transparent bool) *image.Paletted {
	pal := color.Palette{color.NRGBA{255, 0, 0, 255}, color.NRGBA{0, 0, 255, 255}}
	if transparent {
		pal = append(pal, color.NRGBA{0, 0, 0, 0})
	}
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), pal)
	if transparent {
		img.SetColorIndex(0, 0, 2)
	}
	return img
}

// unusedTransparent declares a transparent palette entry that no pixel uses.
func unusedTransparent() *image.Paletted {
	pal := color.Palette{color.NRGBA{255, 0, 0, 255}, color.NRGBA{0, 0, 0, 0}}
	return image.NewPaletted(image.Rect(0, 0, 4, 4), pal)
}

func translucent(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 128})
		}
	}
	return img
}

func opaqueRGBA(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img
}

func TestDetectMode(t *testing.T) {
	cases := []struct {
		name  string
		img   image.Image
		mode  ColorMode
		alpha bool
	}{
		{"gray", image.NewGray(image.Rect(0, 0, 2, 2)), ModeGray, false},
		{"cmyk", image.NewCMYK(image.Rect(0, 0, 2, 2)), ModeCMYK, false},
		{"ycbcr", image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio420), ModeRGB, false},
		{"opaque rgba", opaqueRGBA(2, 2), ModeRGB, false},
		{"translucent nrgba", translucent(2, 2), ModeRGBA, true},
		{"opaque palette", paletted(false), ModePalette, false},
		{"transparent palette", paletted(true), ModePalette, true},
		{"unused transparent entry", unusedTransparent(), ModePalette, true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := NewBuffer(c.img)
			if b.Mode() != c.mode || b.HasAlpha() != c.alpha {
				t.Fatalf("got mode %v alpha %v, want %v %v", b.Mode(), b.HasAlpha(), c.mode, c.alpha)
			}
		})
	}
}

func TestNormalizeRGB(t *testing.T) {
	b := NewBuffer(image.NewGray(image.Rect(0, 0, 3, 3)))
	from, converted := b.NormalizeRGB()
	if !converted || from != ModeGray || b.Mode() != ModeRGB {
		t.Fatalf("gray should convert: from=%v converted=%v mode=%v", from, converted, b.Mode())
	}

	b = NewBuffer(translucent(3, 3))
	if _, converted := b.NormalizeRGB(); converted {
		t.Fatal("images with alpha must be kept as-is")
	}

	b = NewBuffer(paletted(true))
	if _, converted := b.NormalizeRGB(); converted || b.Mode() != ModePalette {
		t.Fatal("palette with transparency must be kept as-is")
	}

	b = NewBuffer(unusedTransparent())
	if _, converted := b.NormalizeRGB(); converted || !b.HasAlpha() {
		t.Fatal("declared transparent entry must keep the palette")
	}

	b = NewBuffer(opaqueRGBA(3, 3))
	if _, converted := b.NormalizeRGB(); converted {
		t.Fatal("rgb must not be converted")
	}
}

func TestResizeKeepsAlpha(t *testing.T) {
	b := NewBuffer(translucent(40, 20))
	b.Resize(resize.Size{Width: 10, Height: 5})
	if b.Width() != 10 || b.Height() != 5 {
		t.Fatalf("unexpected size %v", b.Size())
	}
	if !b.HasAlpha() || b.Mode() != ModeRGBA {
		t.Fatalf("alpha lost during resize: mode %v", b.Mode())
	}
}

func TestDropAlpha(t *testing.T) {
	b := NewBuffer(translucent(4, 4))
	if !b.DropAlpha() {
		t.Fatal("expected alpha to be dropped")
	}
	nrgba, ok := b.Image().(*image.NRGBA)
	if !ok {
		t.Fatalf("unexpected image type %T", b.Image())
	}
	c := nrgba.NRGBAAt(1, 1)
	if c.A != 0xff || c.R != 200 || c.G != 100 || c.B != 50 {
		t.Fatalf("colour should be kept with full opacity, got %+v", c)
	}
	if b.DropAlpha() {
		t.Fatal("second drop should be a no-op")
	}
}

func TestEncodePNGKeepsAlpha(t *testing.T) {
	b := NewBuffer(translucent(8, 8))

	var buf bytes.Buffer
	if err := b.Encode(&buf, format.PNG, 10); err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if NewBuffer(decoded).HasAlpha() != true {
		t.Fatal("png output lost alpha")
	}
}

func TestEncodeWebPKeepsAlpha(t *testing.T) {
	b := NewBuffer(translucent(8, 8))

	var buf bytes.Buffer
	if err := b.Encode(&buf, format.WEBP, 80); err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, _, err := image.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !NewBuffer(decoded).HasAlpha() {
		t.Fatal("lossy webp output lost alpha")
	}
}

func TestEncodeJPEGDropsAlpha(t *testing.T) {
	b := NewBuffer(translucent(8, 8))

	var buf bytes.Buffer
	if err := b.Encode(&buf, format.JPEG, 90); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b.HasAlpha() {
		t.Fatal("jpeg encode should drop alpha")
	}
	if _, err := jpeg.Decode(&buf); err != nil {
		t.Fatalf("output is not a jpeg: %v", err)
	}
}

func TestEncodeUnsupported(t *testing.T) {
	b := NewBuffer(opaqueRGBA(2, 2))
	err := b.Encode(&bytes.Buffer{}, format.SVG, 85)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 5, 7))); err != nil {
		t.Fatalf("encode: %v", err)
	}

	b, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Width() != 5 || b.Height() != 7 || b.Mode() != ModeGray {
		t.Fatalf("unexpected buffer %v %v", b.Size(), b.Mode())
	}

	if _, err := Decode(bytes.NewReader([]byte("not an image"))); err == nil {
		t.Fatal("expected decode error")
	}
}
