package inspector

import (
	"fmt"
	"strings"

	"github.com/barasher/go-exiftool"
)

// FieldReader returns raw metadata tags of a file by tag name.
type FieldReader interface {
	Fields(path string) (map[string]interface{}, error)
}

// ExifTool reads metadata through a long-running exiftool process. It
// covers containers goexif cannot parse, such as PNG and WebP.
type ExifTool struct {
	et *exiftool.Exiftool
}

// NewExifTool starts exiftool. It fails when the binary is not installed.
func NewExifTool() (*ExifTool, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("failed to start exiftool: %w", err)
	}
	return &ExifTool{et: et}, nil
}

// Fields returns the tags exiftool reports for path.
func (e *ExifTool) Fields(path string) (map[string]interface{}, error) {
	files := e.et.ExtractMetadata(path)
	if len(files) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return nil, files[0].Err
	}
	return files[0].Fields, nil
}

// Close stops the exiftool process.
func (e *ExifTool) Close() error {
	return e.et.Close()
}

// applyFields fills camera and capture date from exiftool style tags.
func applyFields(fields map[string]interface{}, info *Info) {
	str := func(key string) string {
		if s, ok := fields[key].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}

	if info.Camera == "" {
		var camera []string
		for _, key := range []string{"Make", "Model"} {
			if s := str(key); s != "" {
				camera = append(camera, s)
			}
		}
		info.Camera = strings.Join(camera, " ")
	}

	if info.TakenAt != nil {
		return
	}
	for _, key := range []string{"DateTimeOriginal", "CreateDate", "ModifyDate"} {
		if date := parseEXIFDateTime(str(key)); date != nil {
			info.TakenAt = date
			info.DateSource = "exiftool " + key
			return
		}
	}
}
