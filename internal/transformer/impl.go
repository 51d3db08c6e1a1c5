package transformer

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imgbatch/internal/codec"
	"imgbatch/internal/fileutil"
	"imgbatch/internal/format"
	"imgbatch/internal/logger"
	"imgbatch/internal/resize"

	"github.com/sirupsen/logrus"
)

// Action texts shared with the reporter and the batch orchestrator.
const (
	ActionCopy        = "copy, no conversion"
	ActionSkip        = "skip, unsupported format"
	ActionNoChanges   = "no changes required"
	ActionAlphaDrop   = "alpha dropped"
	ActionNotFound    = "input file not found"
	actionErrorPrefix = "error: "
)

// DefaultTransformer is the default implementation of the Transformer interface.
type DefaultTransformer struct {
	target format.Format
	logger *logrus.Logger
}

// NewDefaultTransformer creates a transformer that converts raster images to
// target when a request asks for conversion.
func NewDefaultTransformer(target format.Format, log *logrus.Logger) (*DefaultTransformer, error) {
	if !target.IsRaster() {
		return nil, fmt.Errorf("target format must be a raster format, got %s", target)
	}
	if log == nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
	}
	return &DefaultTransformer{target: target, logger: log}, nil
}

// Target returns the conversion target format.
func (t *DefaultTransformer) Target() format.Format {
	return t.target
}

// PlanOutputPath predicts the path Transform will write for req without
// touching the filesystem.
func (t *DefaultTransformer) PlanOutputPath(req Request) string {
	src := format.FromExtension(filepath.Ext(req.InputPath))
	if !src.IsRaster() {
		return req.OutputPath
	}
	path, _ := t.resolveOutput(req, src)
	return path
}

// Transform processes one file and returns its outcome.
func (t *DefaultTransformer) Transform(req Request) (out Outcome) {
	out = Outcome{
		InputPath:  req.InputPath,
		OutputPath: req.OutputPath,
		StartedAt:  time.Now(),
	}

	defer func() {
		if pnk := recover(); pnk != nil {
			out = failOutcome(out, "panic", fmt.Errorf("panic at runtime: %v", pnk))
		}
		out.FinishedAt = time.Now()
		t.logOutcome(out)
	}()

	src := format.FromExtension(filepath.Ext(req.InputPath))
	switch src.Kind() {
	case format.KindUnsupported:
		out.Status = StatusSkipped
		out.Actions = []string{ActionSkip}
		return out
	case format.KindPassthrough:
		return t.copyVerbatim(req, out)
	}

	if err := req.Validate(); err != nil {
		return failOutcome(out, "invalid request", err)
	}
	return t.transformRaster(req, src, out)
}

func (t *DefaultTransformer) copyVerbatim(req Request, out Outcome) Outcome {
	if err := fileutil.CopyFile(req.InputPath, req.OutputPath); err != nil {
		return failOutcome(out, "copy", err)
	}
	size := fileutil.FileSize(req.OutputPath)
	out.InputSize = size
	out.OutputSize = size
	out.Status = StatusSucceeded
	out.Actions = []string{ActionCopy}
	return out
}

func (t *DefaultTransformer) transformRaster(req Request, src format.Format, out Outcome) Outcome {
	data, err := os.ReadFile(req.InputPath)
	if err != nil {
		return failOutcome(out, "read", err)
	}
	out.InputSize = int64(len(data))

	detected := format.Sniff(data)
	if detected.Known && !detected.Image {
		return failOutcome(out, "decode", fmt.Errorf("content is %s, not an image", detected.MIME))
	}
	if detected.Format != format.Unknown && detected.Format != src {
		logger.WithFile(t.logger, req.InputPath).Debugf("Extension says %s but content is %s", src, detected.Format)
	}

	buf, err := codec.Decode(bytes.NewReader(data))
	if err != nil {
		return failOutcome(out, "decode", err)
	}

	var actions []string

	if from, converted := buf.NormalizeRGB(); converted {
		actions = append(actions, fmt.Sprintf("mode conversion: %s -> %s", from, buf.Mode()))
	}

	before := buf.Size()
	if size, ok := resize.Plan(before.Width, before.Height, resize.Bounds{
		MaxWidth:  req.MaxWidth,
		MaxHeight: req.MaxHeight,
	}); ok {
		buf.Resize(size)
		actions = append(actions, fmt.Sprintf("resize: %s -> %s", before, buf.Size()))
	}

	outPath, dst := t.resolveOutput(req, src)
	out.OutputPath = outPath

	policy, ok := dst.Policy()
	if !ok {
		out.Actions = actions
		ext := filepath.Ext(outPath)
		if ext == "" {
			ext = "(none)"
		}
		return failOutcome(out, "encode", fmt.Errorf("%w %s", codec.ErrUnsupportedFormat, ext))
	}
	if dst != src {
		actions = append(actions, "format conversion: "+dst.String())
	}
	if policy.Alpha == format.AlphaDrop && buf.DropAlpha() {
		actions = append(actions, ActionAlphaDrop)
	}

	out.Actions = actions
	if err := fileutil.WriteAtomic(outPath, func(w io.Writer) error {
		return buf.Encode(w, dst, req.Quality)
	}); err != nil {
		return failOutcome(out, "write", err)
	}

	out.OutputSize = fileutil.FileSize(outPath)
	out.Status = StatusSucceeded
	if len(out.Actions) == 0 {
		out.Actions = []string{ActionNoChanges}
	}
	return out
}

// resolveOutput decides the output path and encoder. Conversion rewrites the
// extension; otherwise the requested extension picks the encoder.
func (t *DefaultTransformer) resolveOutput(req Request, src format.Format) (string, format.Format) {
	if req.Convert && src != t.target {
		return replaceExt(req.OutputPath, t.target.Extension()), t.target
	}
	return req.OutputPath, format.FromExtension(filepath.Ext(req.OutputPath))
}

func (t *DefaultTransformer) logOutcome(out Outcome) {
	entry := logger.WithRecord(t.logger, "transform", out.LogRecord())

	switch out.Status {
	case StatusFailed:
		entry.Error("Transform failed")
	case StatusSkipped:
		entry.Debug("Skipped unsupported file")
	default:
		entry.Info("Transformed file")
	}
}

func failOutcome(out Outcome, stage string, err error) Outcome {
	out.Status = StatusFailed
	out.Err = fmt.Errorf("%s: %w", stage, err)
	out.Actions = append(append([]string(nil), out.Actions...), actionErrorPrefix+out.Err.Error())
	return out
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
