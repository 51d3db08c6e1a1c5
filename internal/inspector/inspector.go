package inspector

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"imgbatch/internal/codec"
	"imgbatch/internal/format"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"
)

// Info describes a single image file.
type Info struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind"`
	Format   string `json:"format"`
	MIME     string `json:"mime,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Mode     string `json:"mode,omitempty"`
	HasAlpha bool   `json:"has_alpha"`

	Camera     string     `json:"camera,omitempty"`
	TakenAt    *time.Time `json:"taken_at,omitempty"`
	DateSource string     `json:"date_source,omitempty"`
}

// String renders the info the way the info command prints it.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", i.Path)
	if i.Width > 0 {
		fmt.Fprintf(&b, "Size: %d x %d\n", i.Width, i.Height)
	}
	fmt.Fprintf(&b, "Format: %s\n", i.Format)
	if i.Mode != "" {
		fmt.Fprintf(&b, "Mode: %s\n", i.Mode)
	}
	fmt.Fprintf(&b, "Alpha: %t\n", i.HasAlpha)
	if i.MIME != "" {
		fmt.Fprintf(&b, "MIME: %s\n", i.MIME)
	}
	fmt.Fprintf(&b, "Bytes: %d\n", i.Size)
	if i.Camera != "" {
		fmt.Fprintf(&b, "Camera: %s\n", i.Camera)
	}
	if i.TakenAt != nil {
		fmt.Fprintf(&b, "Taken: %s (%s)\n", i.TakenAt.Format("2006-01-02 15:04:05"), i.DateSource)
	}
	return b.String()
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	HitRate      float64
	TotalQueries int64
}

// Inspector answers single-file info queries. Results are cached per
// path, size and modification time.
type Inspector struct {
	logger   *logrus.Logger
	cache    *sync.Map
	stats    CacheStats
	mutex    sync.RWMutex
	fallback FieldReader
}

// NewInspector returns a new Inspector.
func NewInspector(logger *logrus.Logger) *Inspector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Inspector{
		logger: logger,
		cache:  &sync.Map{},
	}
}

// WithFallback sets a reader consulted when the embedded EXIF parser finds
// no camera or date, e.g. an ExifTool.
func (in *Inspector) WithFallback(r FieldReader) *Inspector {
	in.fallback = r
	return in
}

// Inspect returns information about the file at path. Unsupported
// extensions are an error; passthrough files report no pixel data.
func (in *Inspector) Inspect(path string) (*Info, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if fileInfo.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	key := cacheKey(path, fileInfo)
	if value, ok := in.cache.Load(key); ok {
		in.incrementCacheHits()
		info := value.(Info)
		return &info, nil
	}
	in.incrementCacheMisses()

	f := format.FromExtension(filepath.Ext(path))
	if f.Kind() == format.KindUnsupported {
		return nil, fmt.Errorf("unsupported format: %s", filepath.Ext(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	info := Info{
		Path:   path,
		Size:   fileInfo.Size(),
		Kind:   f.Kind().String(),
		Format: f.String(),
	}
	detected := format.Sniff(data)
	info.MIME = detected.MIME

	if f.IsRaster() {
		buf, err := codec.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		info.Width = buf.Width()
		info.Height = buf.Height()
		info.Mode = buf.Mode().String()
		info.HasAlpha = buf.HasAlpha()
		if detected.Format != format.Unknown {
			info.Format = detected.Format.String()
		}
		in.readEXIF(data, &info)
		if in.fallback != nil && (info.Camera == "" || info.TakenAt == nil) {
			if fields, err := in.fallback.Fields(path); err != nil {
				in.logger.Debugf("Fallback metadata read failed for %s: %v", path, err)
			} else {
				applyFields(fields, &info)
			}
		}
	}

	in.cache.Store(key, info)
	return &info, nil
}

// ClearCache removes all entries from the cache and resets statistics.
func (in *Inspector) ClearCache() {
	in.cache = &sync.Map{}
	in.mutex.Lock()
	in.stats = CacheStats{}
	in.mutex.Unlock()
}

// GetCacheStats returns cache statistics.
func (in *Inspector) GetCacheStats() CacheStats {
	in.mutex.RLock()
	defer in.mutex.RUnlock()

	stats := in.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

// readEXIF fills camera and capture date when the file carries EXIF data.
// Missing or broken EXIF is not an error.
func (in *Inspector) readEXIF(data []byte, info *Info) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		in.logger.Debugf("No EXIF data in %s: %v", info.Path, err)
		return
	}

	var camera []string
	for _, name := range []exif.FieldName{exif.Make, exif.Model} {
		if tag, err := x.Get(name); err == nil {
			if s, err := tag.StringVal(); err == nil && strings.TrimSpace(s) != "" {
				camera = append(camera, strings.TrimSpace(s))
			}
		}
	}
	info.Camera = strings.Join(camera, " ")

	if tm, err := x.DateTime(); err == nil {
		info.TakenAt = &tm
		info.DateSource = "EXIF DateTime"
		return
	}

	for _, name := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized} {
		field, err := x.Get(name)
		if err != nil {
			continue
		}
		s, err := field.StringVal()
		if err != nil {
			continue
		}
		if date := parseEXIFDateTime(s); date != nil {
			info.TakenAt = date
			info.DateSource = "EXIF " + string(name)
			return
		}
	}
}

// parseEXIFDateTime parses an EXIF date time string. Returns nil if parsing fails.
func parseEXIFDateTime(dateStr string) *time.Time {
	if dateStr == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		"2006:01:02",
		"2006-01-02",
		time.RFC3339,
	}

	for _, f := range formats {
		if date, err := time.Parse(f, dateStr); err == nil {
			return &date
		}
	}
	return nil
}

func cacheKey(path string, fileInfo os.FileInfo) string {
	return fmt.Sprintf("%s:%d:%d", path, fileInfo.Size(), fileInfo.ModTime().UnixNano())
}

func (in *Inspector) incrementCacheHits() {
	in.mutex.Lock()
	in.stats.Hits++
	in.stats.TotalQueries++
	in.mutex.Unlock()
}

func (in *Inspector) incrementCacheMisses() {
	in.mutex.Lock()
	in.stats.Misses++
	in.stats.TotalQueries++
	in.mutex.Unlock()
}
