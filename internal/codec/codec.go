package codec

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"imgbatch/internal/format"
	"imgbatch/internal/resize"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"

	// Registers the WebP decoder with image.Decode; imaging already brings BMP and TIFF.
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedFormat is returned when asked to encode a format that has
// no encoder.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// ColorMode is the pixel layout of a decoded image.
type ColorMode int

const (
	ModeUnknown ColorMode = iota
	ModeGray
	ModeRGB
	ModeRGBA
	ModePalette
	ModeCMYK
)

// String returns the lowercase mode name used in outcome actions.
func (m ColorMode) String() string {
	switch m {
	case ModeGray:
		return "gray"
	case ModeRGB:
		return "rgb"
	case ModeRGBA:
		return "rgba"
	case ModePalette:
		return "palette"
	case ModeCMYK:
		return "cmyk"
	default:
		return "unknown"
	}
}

// Buffer is a decoded image together with its colour mode. It is owned by a
// single transform and never shared.
type Buffer struct {
	img      image.Image
	mode     ColorMode
	hasAlpha bool
}

// Decode reads an image in any registered raster format.
func Decode(r io.Reader) (*Buffer, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, err
	}
	return NewBuffer(img), nil
}

// NewBuffer wraps an already decoded image.
func NewBuffer(img image.Image) *Buffer {
	mode, alpha := detectMode(img)
	return &Buffer{img: img, mode: mode, hasAlpha: alpha}
}

// Image returns the underlying pixels.
func (b *Buffer) Image() image.Image { return b.img }

// Width returns the image width in pixels.
func (b *Buffer) Width() int { return b.img.Bounds().Dx() }

// Height returns the image height in pixels.
func (b *Buffer) Height() int { return b.img.Bounds().Dy() }

// Size returns the current dimensions.
func (b *Buffer) Size() resize.Size {
	return resize.Size{Width: b.Width(), Height: b.Height()}
}

// Mode returns the colour mode.
func (b *Buffer) Mode() ColorMode { return b.mode }

// HasAlpha reports whether the image carries transparency.
func (b *Buffer) HasAlpha() bool { return b.hasAlpha }

// NormalizeRGB converts images without alpha to RGB. Images with alpha and
// images that already are RGB are left alone. It returns the previous mode
// and whether a conversion happened.
func (b *Buffer) NormalizeRGB() (ColorMode, bool) {
	from := b.mode
	if b.hasAlpha || b.mode == ModeRGB {
		return from, false
	}
	b.img = imaging.Clone(b.img)
	b.mode = ModeRGB
	return from, true
}

// Resize scales the image to exactly size using a Lanczos filter.
func (b *Buffer) Resize(size resize.Size) {
	b.img = imaging.Resize(b.img, size.Width, size.Height, imaging.Lanczos)
	if b.hasAlpha {
		b.mode = ModeRGBA
	} else {
		b.mode = ModeRGB
	}
}

// DropAlpha discards the alpha channel without compositing: every pixel
// keeps its colour and becomes fully opaque. It reports whether anything
// was dropped.
func (b *Buffer) DropAlpha() bool {
	if !b.hasAlpha {
		return false
	}
	b.img = imaging.AdjustFunc(b.img, func(c color.NRGBA) color.NRGBA {
		c.A = 0xff
		return c
	})
	b.hasAlpha = false
	b.mode = ModeRGB
	return true
}

// Encode writes the image in format f. Quality is only used by formats whose
// policy says so.
func (b *Buffer) Encode(w io.Writer, f format.Format, quality int) error {
	policy, ok := f.Policy()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	if policy.Alpha == format.AlphaDrop {
		b.DropAlpha()
	}

	switch f {
	case format.WEBP:
		return encodeWebP(w, b.img, quality)
	case format.JPEG:
		return imaging.Encode(w, b.img, imaging.JPEG, imaging.JPEGQuality(quality))
	case format.PNG:
		return imaging.Encode(w, b.img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	case format.GIF:
		return imaging.Encode(w, b.img, imaging.GIF)
	case format.BMP:
		return imaging.Encode(w, b.img, imaging.BMP)
	case format.TIFF:
		return imaging.Encode(w, b.img, imaging.TIFF)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
}

// encodeWebP writes lossy WebP. libwebp keeps the alpha plane in lossy mode.
func encodeWebP(w io.Writer, img image.Image, quality int) error {
	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
	if err != nil {
		return fmt.Errorf("webp options: %w", err)
	}
	return webp.Encode(w, img, options)
}

// paletteHasAlpha reports whether any palette entry is not fully opaque,
// whether or not a pixel uses it.
func paletteHasAlpha(p color.Palette) bool {
	for _, c := range p {
		if _, _, _, a := c.RGBA(); a != 0xffff {
			return true
		}
	}
	return false
}

type opaquer interface {
	Opaque() bool
}

func detectMode(img image.Image) (ColorMode, bool) {
	switch m := img.(type) {
	case *image.Gray, *image.Gray16:
		return ModeGray, false
	case *image.CMYK:
		return ModeCMYK, false
	case *image.YCbCr:
		return ModeRGB, false
	case *image.Paletted:
		return ModePalette, paletteHasAlpha(m.Palette)
	case *image.NYCbCrA, *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		if !img.(opaquer).Opaque() {
			return ModeRGBA, true
		}
		return ModeRGB, false
	}

	if o, ok := img.(opaquer); ok && !o.Opaque() {
		return ModeRGBA, true
	}
	return ModeUnknown, false
}
