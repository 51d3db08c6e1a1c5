package format

import (
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

var mimeFormats = map[string]Format{
	"image/jpeg":               JPEG,
	"image/png":                PNG,
	"image/gif":                GIF,
	"image/bmp":                BMP,
	"image/tiff":               TIFF,
	"image/webp":               WEBP,
	"image/x-icon":             ICO,
	"image/vnd.microsoft.icon": ICO,
}

// Detection is the result of inspecting file content.
type Detection struct {
	MIME   string
	Format Format
	// Known is false when no signature matched at all.
	Known bool
	// Image is true when the signature belongs to an image type.
	Image bool
}

// Sniff inspects the magic bytes of data. Only the first few hundred bytes
// are looked at.
func Sniff(data []byte) Detection {
	t, err := filetype.Match(data)
	if err != nil || t == types.Unknown {
		return Detection{}
	}

	return Detection{
		MIME:   t.MIME.Value,
		Format: mimeFormats[t.MIME.Value],
		Known:  true,
		Image:  filetype.IsImage(data),
	}
}
