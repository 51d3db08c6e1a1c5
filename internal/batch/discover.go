package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"imgbatch/internal/fileutil"
	"imgbatch/internal/format"
	"imgbatch/internal/logger"

	"github.com/sirupsen/logrus"
)

// Discover lists the raster and passthrough files under opts.InputDir,
// sorted by full path. An output directory nested inside the input root is
// never descended into.
func Discover(opts Options, log *logrus.Logger) ([]string, error) {
	if log == nil {
		log = logrus.New()
	}

	info, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", opts.InputDir)
	}

	var files []string
	if opts.Recursive {
		files, err = walkTree(opts, log)
	} else {
		files, err = listTopLevel(opts.InputDir)
	}
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func walkTree(opts Options, log *logrus.Logger) ([]string, error) {
	root := filepath.Clean(opts.InputDir)
	prune := prunedDir(root, opts.OutputDir)

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.WithFile(log, path).WithError(err).Warn("Error accessing path, skipping")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && prune != "" && samePath(path, prune) {
				log.Debugf("Skipping output directory inside input tree: %s", path)
				return filepath.SkipDir
			}
			return nil
		}

		if wanted(d) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func listTopLevel(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !wanted(e) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func wanted(d fs.DirEntry) bool {
	if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	if fileutil.IsTempPath(d.Name()) {
		return false
	}
	return format.Classify(filepath.Ext(d.Name())) != format.KindUnsupported
}

// prunedDir returns the output directory when it lies strictly inside root.
func prunedDir(root, outputDir string) string {
	if outputDir == "" {
		return ""
	}
	rel, err := filepath.Rel(absPath(root), absPath(outputDir))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return outputDir
}

func samePath(a, b string) bool {
	return absPath(a) == absPath(b)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

// OutputPath maps an input file to its requested output path: mirrored
// below OutputDir, or directly inside it when flattening.
func OutputPath(opts Options, inputPath string) (string, error) {
	if opts.Flatten {
		return filepath.Join(opts.OutputDir, filepath.Base(inputPath)), nil
	}

	root := opts.InputDir
	if filepath.IsAbs(inputPath) != filepath.IsAbs(root) {
		root, inputPath = absPath(root), absPath(inputPath)
	}

	rel, err := filepath.Rel(root, inputPath)
	if err != nil {
		return "", fmt.Errorf("relative path of %s: %w", inputPath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the input directory %s", inputPath, opts.InputDir)
	}
	return filepath.Join(opts.OutputDir, rel), nil
}
