// Package manifest loads the explicit list of images to process, each with
// an optional rename and per-item overrides of the run defaults.
//
// A manifest is JSON or YAML:
//
//	{
//	  "images": [
//	    {"input": "photo001.jpg", "output": "hero.webp", "max_width": 1600},
//	    {"input": "photo002.png", "output": "about-bg.webp", "max_height": null}
//	  ],
//	  "default": {"max_width": 1200, "max_height": null, "quality": 85, "convert_to_target_format": true}
//	}
//
// Dimension keys are tri-state: an absent key inherits the default, an
// explicit null means unbounded and a number overrides.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest wraps every problem that makes a manifest unusable as a
// whole. Problems local to one item are reported on that item instead.
var ErrInvalidManifest = errors.New("invalid manifest")

// Item keys.
const (
	keyImages    = "images"
	keyDefault   = "default"
	keyInput     = "input"
	keyOutput    = "output"
	keyMaxWidth  = "max_width"
	keyMaxHeight = "max_height"
	keyQuality   = "quality"
	keyConvert   = "convert_to_target_format"
	// Older manifests name the conversion flag after the only target there was.
	keyConvertLegacy = "convert_to_webp"
)

// Bound is a dimension override. Set is false when the key was absent; a
// set bound with Value 0 means unbounded.
type Bound struct {
	Set   bool
	Value int
}

// Or returns the bound's value, or def when the key was absent.
func (b Bound) Or(def int) int {
	if !b.Set {
		return def
	}
	return b.Value
}

// Defaults are the settings items fall back to.
type Defaults struct {
	MaxWidth  int // 0 means unbounded
	MaxHeight int // 0 means unbounded
	Quality   int
	Convert   bool
}

// DefaultSettings returns the defaults used when a manifest has no
// "default" section.
func DefaultSettings() Defaults {
	return Defaults{
		MaxWidth:  1200,
		MaxHeight: 0,
		Quality:   85,
		Convert:   true,
	}
}

// Settings are the effective transform settings of one item.
type Settings struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
	Convert   bool
}

// Item is one manifest entry. Err is set when the entry itself is invalid;
// such an item is reported as failed without touching the filesystem.
type Item struct {
	Index     int
	Input     string
	Output    string
	MaxWidth  Bound
	MaxHeight Bound
	Quality   *int
	Convert   *bool
	Err       error
}

// Renamed reports whether the output name differs from the input name.
func (it Item) Renamed() bool {
	return it.Input != it.Output
}

// Resolve merges the item's overrides with d.
func (it Item) Resolve(d Defaults) Settings {
	s := Settings{
		MaxWidth:  it.MaxWidth.Or(d.MaxWidth),
		MaxHeight: it.MaxHeight.Or(d.MaxHeight),
		Quality:   d.Quality,
		Convert:   d.Convert,
	}
	if it.Quality != nil {
		s.Quality = *it.Quality
	}
	if it.Convert != nil {
		s.Convert = *it.Convert
	}
	return s
}

// Manifest is a loaded manifest with items in file order.
type Manifest struct {
	Source   string
	Defaults Defaults
	Items    []Item
}

// Load reads a manifest file. The extension selects the decoder: .yaml and
// .yml are YAML, anything else is JSON.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}

	m, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	m.Source = path
	return m, nil
}

// Parse decodes manifest bytes. ext is the file extension used to pick the
// decoder.
func Parse(data []byte, ext string) (*Manifest, error) {
	var raw map[string]any

	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: malformed YAML: %v", ErrInvalidManifest, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidManifest, err)
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("%w: malformed JSON: trailing data", ErrInvalidManifest)
		}
	}

	if raw == nil {
		return nil, fmt.Errorf("%w: manifest is empty", ErrInvalidManifest)
	}
	return fromMap(raw)
}

func fromMap(raw map[string]any) (*Manifest, error) {
	defaults, err := parseDefaults(raw[keyDefault])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, keyDefault, err)
	}

	images, ok := raw[keyImages]
	if !ok {
		return nil, fmt.Errorf("%w: %q is required", ErrInvalidManifest, keyImages)
	}
	list, ok := images.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be a list, got %T", ErrInvalidManifest, keyImages, images)
	}

	m := &Manifest{Defaults: defaults, Items: make([]Item, 0, len(list))}
	for i, entry := range list {
		m.Items = append(m.Items, parseItem(i, entry))
	}
	return m, nil
}

func parseDefaults(v any) (Defaults, error) {
	d := DefaultSettings()
	if v == nil {
		return d, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return d, fmt.Errorf("must be an object, got %T", v)
	}

	var err error
	var b Bound
	if b, err = parseBound(obj, keyMaxWidth); err != nil {
		return d, err
	}
	d.MaxWidth = b.Or(d.MaxWidth)
	if b, err = parseBound(obj, keyMaxHeight); err != nil {
		return d, err
	}
	d.MaxHeight = b.Or(d.MaxHeight)

	q, err := parseQuality(obj)
	if err != nil {
		return d, err
	}
	if q != nil {
		d.Quality = *q
	}

	c, err := parseConvert(obj)
	if err != nil {
		return d, err
	}
	if c != nil {
		d.Convert = *c
	}
	return d, nil
}

func parseItem(index int, entry any) Item {
	it := Item{Index: index}

	obj, ok := entry.(map[string]any)
	if !ok {
		it.Err = fmt.Errorf("item %d must be an object, got %T", index, entry)
		return it
	}

	input, err := stringField(obj, keyInput)
	if err != nil {
		it.Err = err
		return it
	}
	if input == "" {
		it.Err = fmt.Errorf("%s is not specified", keyInput)
		return it
	}
	it.Input = input

	output, err := stringField(obj, keyOutput)
	if err != nil {
		it.Err = err
		return it
	}
	if output == "" {
		output = input
	}
	it.Output = output

	if it.MaxWidth, err = parseBound(obj, keyMaxWidth); err != nil {
		it.Err = err
		return it
	}
	if it.MaxHeight, err = parseBound(obj, keyMaxHeight); err != nil {
		it.Err = err
		return it
	}
	if it.Quality, err = parseQuality(obj); err != nil {
		it.Err = err
		return it
	}
	if it.Convert, err = parseConvert(obj); err != nil {
		it.Err = err
		return it
	}
	return it
}

func stringField(obj map[string]any, key string) (string, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", key, v)
	}
	return strings.TrimSpace(s), nil
}

// parseBound reads a dimension. Zero is accepted and means unbounded, like null.
func parseBound(obj map[string]any, key string) (Bound, error) {
	v, ok := obj[key]
	if !ok {
		return Bound{}, nil
	}
	if v == nil {
		return Bound{Set: true}, nil
	}
	n, err := toInt(v)
	if err != nil {
		return Bound{}, fmt.Errorf("%s: %v", key, err)
	}
	if n < 0 {
		return Bound{}, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return Bound{Set: true, Value: n}, nil
}

// parseQuality treats null like an absent key.
func parseQuality(obj map[string]any) (*int, error) {
	v, ok := obj[keyQuality]
	if !ok || v == nil {
		return nil, nil
	}
	n, err := toInt(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", keyQuality, err)
	}
	if n < 1 || n > 100 {
		return nil, fmt.Errorf("%s must be within 1-100, got %d", keyQuality, n)
	}
	return &n, nil
}

func parseConvert(obj map[string]any) (*bool, error) {
	key := keyConvert
	v, ok := obj[key]
	if !ok {
		key = keyConvertLegacy
		v, ok = obj[key]
	}
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%s must be a boolean, got %T", key, v)
	}
	return &b, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt32 {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil || f != math.Trunc(f) {
				return 0, fmt.Errorf("expected an integer, got %s", n.String())
			}
			return int(f), nil
		}
		return int(i), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}
