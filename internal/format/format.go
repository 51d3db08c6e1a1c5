package format

import (
	"fmt"
	"strings"
)

// Kind tells the transformer how a file must be handled.
type Kind int

const (
	KindUnsupported Kind = iota
	KindRaster
	KindPassthrough
)

// String returns a human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindPassthrough:
		return "passthrough"
	default:
		return "unsupported"
	}
}

// Format is one of the closed set of formats the pipeline knows about.
type Format int

const (
	Unknown Format = iota
	JPEG
	PNG
	GIF
	BMP
	TIFF
	WEBP
	SVG
	ICO
)

// AlphaPolicy describes what an encoder does with an alpha channel.
type AlphaPolicy int

const (
	AlphaKeep AlphaPolicy = iota
	AlphaDrop
)

// EncodePolicy holds the format-specific encoding rules.
type EncodePolicy struct {
	Alpha       AlphaPolicy
	UsesQuality bool
	Optimize    bool
}

var extensions = map[string]Format{
	".jpg":  JPEG,
	".jpeg": JPEG,
	".png":  PNG,
	".gif":  GIF,
	".bmp":  BMP,
	".tif":  TIFF,
	".tiff": TIFF,
	".webp": WEBP,
	".svg":  SVG,
	".ico":  ICO,
}

var policies = map[Format]EncodePolicy{
	WEBP: {Alpha: AlphaKeep, UsesQuality: true},
	JPEG: {Alpha: AlphaDrop, UsesQuality: true},
	PNG:  {Alpha: AlphaKeep, Optimize: true},
	GIF:  {Alpha: AlphaKeep},
	BMP:  {Alpha: AlphaKeep},
	TIFF: {Alpha: AlphaKeep},
}

// FromExtension returns the format for a file extension. The lookup is
// case-insensitive and the leading dot is optional.
func FromExtension(ext string) Format {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return Unknown
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return extensions[ext]
}

// Classify decides whether a file with the given extension is decoded,
// copied verbatim or ignored. It never touches the filesystem.
func Classify(ext string) Kind {
	return FromExtension(ext).Kind()
}

// Parse resolves a format name such as "webp" or "jpg".
func Parse(name string) (Format, error) {
	f := FromExtension(name)
	if f == Unknown {
		return Unknown, fmt.Errorf("unknown image format: %q", name)
	}
	return f, nil
}

// Kind returns the handling class of the format.
func (f Format) Kind() Kind {
	switch f {
	case JPEG, PNG, GIF, BMP, TIFF, WEBP:
		return KindRaster
	case SVG, ICO:
		return KindPassthrough
	default:
		return KindUnsupported
	}
}

// IsRaster reports whether the format is decoded and re-encoded.
func (f Format) IsRaster() bool {
	return f.Kind() == KindRaster
}

// Extension returns the canonical extension, including the dot.
func (f Format) Extension() string {
	switch f {
	case JPEG:
		return ".jpg"
	case PNG:
		return ".png"
	case GIF:
		return ".gif"
	case BMP:
		return ".bmp"
	case TIFF:
		return ".tiff"
	case WEBP:
		return ".webp"
	case SVG:
		return ".svg"
	case ICO:
		return ".ico"
	default:
		return ""
	}
}

// Policy returns the encode rules for a raster format. The second value is
// false for formats that cannot be encoded.
func (f Format) Policy() (EncodePolicy, bool) {
	p, ok := policies[f]
	return p, ok
}

// String returns the lowercase name of the format.
func (f Format) String() string {
	switch f {
	case JPEG:
		return "jpeg"
	case PNG:
		return "png"
	case GIF:
		return "gif"
	case BMP:
		return "bmp"
	case TIFF:
		return "tiff"
	case WEBP:
		return "webp"
	case SVG:
		return "svg"
	case ICO:
		return "ico"
	default:
		return "unknown"
	}
}

// SupportedExtensions lists every extension the pipeline picks up during
// directory discovery.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensions))
	for ext := range extensions {
		exts = append(exts, ext)
	}
	return exts
}
