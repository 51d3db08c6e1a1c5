package resize

import "fmt"

// Bounds limits the output dimensions. A zero value means unbounded.
type Bounds struct {
	MaxWidth  int
	MaxHeight int
}

// Size is a pair of pixel dimensions.
type Size struct {
	Width  int
	Height int
}

// String formats the size as WxH.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Unbounded reports whether neither limit is set.
func (b Bounds) Unbounded() bool {
	return b.MaxWidth <= 0 && b.MaxHeight <= 0
}

// Plan computes the dimensions an image of width x height must be scaled to
// so that it fits within b while keeping its aspect ratio. The boolean is
// false when no resize is needed.
//
// Width is clamped first and height second; the order is observable for
// images that exceed both limits and must not change.
func Plan(width, height int, b Bounds) (Size, bool) {
	if b.Unbounded() || width <= 0 || height <= 0 {
		return Size{}, false
	}

	widthOK := b.MaxWidth <= 0 || width <= b.MaxWidth
	heightOK := b.MaxHeight <= 0 || height <= b.MaxHeight
	if widthOK && heightOK {
		return Size{}, false
	}

	aspect := float64(width) / float64(height)
	target := Size{Width: width, Height: height}

	if b.MaxWidth > 0 && width > b.MaxWidth {
		target.Width = b.MaxWidth
		target.Height = int(float64(b.MaxWidth) / aspect)
	}

	if b.MaxHeight > 0 && target.Height > b.MaxHeight {
		target.Height = b.MaxHeight
		target.Width = int(float64(b.MaxHeight) * aspect)
	}

	// Extreme aspect ratios can truncate to zero.
	if target.Width < 1 {
		target.Width = 1
	}
	if target.Height < 1 {
		target.Height = 1
	}

	return target, true
}
