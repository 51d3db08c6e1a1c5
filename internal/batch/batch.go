package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"imgbatch/internal/config"
	"imgbatch/internal/fileutil"
	"imgbatch/internal/logger"
	"imgbatch/internal/manifest"
	"imgbatch/internal/statistics"
	"imgbatch/internal/transformer"

	"github.com/sirupsen/logrus"
)

// ErrInputNotFound is the error of a manifest item whose input does not exist.
var ErrInputNotFound = errors.New("input file not found")

// Options control a directory scan run.
type Options struct {
	InputDir  string
	OutputDir string
	MaxWidth  int // 0 means unbounded
	MaxHeight int // 0 means unbounded
	Convert   bool
	Quality   int
	Recursive bool
	Flatten   bool
}

// OptionsFromConfig builds scan options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		InputDir:  cfg.InputDirectory,
		OutputDir: cfg.OutputDirectory,
		MaxWidth:  cfg.Transform.MaxWidth,
		MaxHeight: cfg.Transform.MaxHeight,
		Convert:   cfg.Transform.Convert,
		Quality:   cfg.Transform.Quality,
		Recursive: cfg.Traversal.Recursive,
		Flatten:   cfg.Traversal.Flatten,
	}
}

// Validate checks that the options describe a runnable scan.
func (o Options) Validate() error {
	if o.InputDir == "" {
		return fmt.Errorf("input directory is required")
	}
	if o.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	if o.MaxWidth < 0 || o.MaxHeight < 0 {
		return fmt.Errorf("max dimensions must not be negative")
	}
	if o.Quality < 1 || o.Quality > 100 {
		return fmt.Errorf("quality must be within 1-100, got %d", o.Quality)
	}
	return nil
}

func (o Options) request(inputPath, outputPath string) transformer.Request {
	return transformer.Request{
		InputPath:  inputPath,
		OutputPath: outputPath,
		MaxWidth:   o.MaxWidth,
		MaxHeight:  o.MaxHeight,
		Convert:    o.Convert,
		Quality:    o.Quality,
	}
}

// OutcomeHook is called once per finished item with the item's position in
// the run. With more than one worker it may be called concurrently.
type OutcomeHook func(index int, out transformer.Outcome)

// MetricsRecorder observes item and run timings.
type MetricsRecorder interface {
	StartRun() func()
	StartItem() func(out transformer.Outcome)
}

// outputPlanner is implemented by transformers that can predict the final
// output path of a request.
type outputPlanner interface {
	PlanOutputPath(req transformer.Request) string
}

// Orchestrator drives a Transformer over a directory scan or a manifest.
type Orchestrator struct {
	transformer transformer.Transformer
	logger      *logrus.Logger
	stats       *statistics.Statistics
	metrics     MetricsRecorder
	hook        OutcomeHook
	workers     int
}

// NewOrchestrator returns an orchestrator running with the given number of
// workers. One worker, or less, processes items strictly sequentially.
func NewOrchestrator(
	tr transformer.Transformer,
	log *logrus.Logger,
	stats *statistics.Statistics,
	workers int,
) *Orchestrator {
	return NewOrchestratorWithHooks(tr, log, stats, workers, nil, nil)
}

// NewOrchestratorWithHooks also wires a metrics recorder and an outcome hook,
// e.g. to stream progress over a websocket. Both may be nil.
func NewOrchestratorWithHooks(
	tr transformer.Transformer,
	log *logrus.Logger,
	stats *statistics.Statistics,
	workers int,
	metrics MetricsRecorder,
	hook OutcomeHook,
) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logrus.New()
	}
	return &Orchestrator{
		transformer: tr,
		logger:      log,
		stats:       stats,
		metrics:     metrics,
		hook:        hook,
		workers:     workers,
	}
}

// workItem is one unit of work. A non-nil outcome means the item was
// decided before reaching the transformer.
type workItem struct {
	req     transformer.Request
	rename  string
	outcome *transformer.Outcome
}

// ProcessDirectory transforms every supported file under opts.InputDir and
// returns the outcomes in discovery order.
func (o *Orchestrator) ProcessDirectory(ctx context.Context, opts Options) ([]transformer.Outcome, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log := logger.WithOperation(o.logger, "scan")
	log.WithFields(logrus.Fields{
		"input":     opts.InputDir,
		"output":    opts.OutputDir,
		"recursive": opts.Recursive,
		"flatten":   opts.Flatten,
	}).Info("Starting directory scan")

	files, err := Discover(opts, o.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	if len(files) == 0 {
		log.Info("No supported image files found")
		return nil, nil
	}
	log.Infof("Found %d files to process", len(files))

	items := make([]workItem, 0, len(files))
	claims := make(map[string]string, len(files))
	for _, path := range files {
		outPath, err := OutputPath(opts, path)
		if err != nil {
			out := transformer.Failed(path, "", err, "error: "+err.Error())
			items = append(items, workItem{outcome: &out})
			continue
		}

		req := opts.request(path, outPath)
		final := o.planOutput(req)
		if first, taken := claims[final]; taken {
			err := fmt.Errorf("output collision with %s", first)
			out := transformer.Failed(path, final, err, "error: "+err.Error())
			items = append(items, workItem{outcome: &out})
			continue
		}
		claims[final] = path
		items = append(items, workItem{req: req})
	}

	return o.run(ctx, items)
}

// ProcessManifest transforms the manifest items, resolving input names
// against inputDir and output names against outputDir.
func (o *Orchestrator) ProcessManifest(ctx context.Context, m *manifest.Manifest, inputDir, outputDir string) ([]transformer.Outcome, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: no manifest", manifest.ErrInvalidManifest)
	}

	logger.WithOperation(o.logger, "manifest").WithFields(logrus.Fields{
		"manifest": m.Source,
		"items":    len(m.Items),
		"input":    inputDir,
		"output":   outputDir,
	}).Info("Starting manifest run")

	items := make([]workItem, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, manifestItem(m.Defaults, it, inputDir, outputDir))
	}
	return o.run(ctx, items)
}

func manifestItem(defaults manifest.Defaults, it manifest.Item, inputDir, outputDir string) workItem {
	if it.Err != nil {
		input := "(unknown)"
		if it.Input != "" {
			input = filepath.Join(inputDir, it.Input)
		}
		output := ""
		if it.Output != "" {
			output = filepath.Join(outputDir, it.Output)
		}
		out := transformer.Failed(input, output, it.Err, "error: "+it.Err.Error())
		return workItem{outcome: &out}
	}

	inputPath := filepath.Join(inputDir, it.Input)
	outputPath := filepath.Join(outputDir, it.Output)

	if !fileutil.FileExists(inputPath) {
		out := transformer.Failed(inputPath, outputPath, ErrInputNotFound, transformer.ActionNotFound)
		return workItem{outcome: &out}
	}

	s := it.Resolve(defaults)
	item := workItem{req: transformer.Request{
		InputPath:  inputPath,
		OutputPath: outputPath,
		MaxWidth:   s.MaxWidth,
		MaxHeight:  s.MaxHeight,
		Convert:    s.Convert,
		Quality:    s.Quality,
	}}
	if it.Renamed() {
		item.rename = fmt.Sprintf("rename: %s -> %s", it.Input, it.Output)
	}
	return item
}

// ProcessFile transforms a single file under the directory scan path rules.
func (o *Orchestrator) ProcessFile(opts Options, path string) transformer.Outcome {
	outPath, err := OutputPath(opts, path)
	if err != nil {
		out := transformer.Failed(path, "", err, "error: "+err.Error())
		o.record(0, out)
		return out
	}
	return o.process(0, workItem{req: opts.request(path, outPath)})
}

func (o *Orchestrator) planOutput(req transformer.Request) string {
	if p, ok := o.transformer.(outputPlanner); ok {
		return p.PlanOutputPath(req)
	}
	return req.OutputPath
}

// run processes items and returns their outcomes in item order. When ctx
// is cancelled no further items are started; the outcomes produced so far
// are returned together with the context error.
func (o *Orchestrator) run(ctx context.Context, items []workItem) ([]transformer.Outcome, error) {
	if o.metrics != nil {
		defer o.metrics.StartRun()()
	}
	if o.stats != nil {
		defer o.stats.Finalize()
	}

	if o.workers <= 1 || len(items) <= 1 {
		outcomes := make([]transformer.Outcome, 0, len(items))
		for i, item := range items {
			if err := ctx.Err(); err != nil {
				return outcomes, err
			}
			outcomes = append(outcomes, o.process(i, item))
		}
		return outcomes, nil
	}

	return o.runParallel(ctx, items)
}

func (o *Orchestrator) runParallel(ctx context.Context, items []workItem) ([]transformer.Outcome, error) {
	type job struct {
		index int
		item  workItem
	}

	jobs := make(chan job)
	outcomes := make([]transformer.Outcome, len(items))
	done := make([]bool, len(items))

	var wg sync.WaitGroup
	wg.Add(o.workers)
	for w := 0; w < o.workers; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				// Each index is written by exactly one worker.
				outcomes[j.index] = o.process(j.index, j.item)
				done[j.index] = true
			}
		}()
	}

	var err error
dispatch:
	for i, item := range items {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break dispatch
		case jobs <- job{index: i, item: item}:
		}
	}
	close(jobs)
	wg.Wait()

	if err == nil {
		return outcomes, nil
	}

	finished := make([]transformer.Outcome, 0, len(items))
	for i, ok := range done {
		if ok {
			finished = append(finished, outcomes[i])
		}
	}
	return finished, err
}

func (o *Orchestrator) process(index int, item workItem) transformer.Outcome {
	var finish func(transformer.Outcome)
	if o.metrics != nil {
		finish = o.metrics.StartItem()
	}

	var out transformer.Outcome
	if item.outcome != nil {
		out = *item.outcome
		logger.WithFile(o.logger, out.InputPath).WithError(out.Err).Warn("Item not transformed")
	} else {
		out = o.transformer.Transform(item.req)
		if item.rename != "" {
			out = out.WithPrependedAction(item.rename)
		}
	}

	if finish != nil {
		finish(out)
	}
	o.record(index, out)
	return out
}

func (o *Orchestrator) record(index int, out transformer.Outcome) {
	if o.stats != nil {
		o.stats.Record(out)
	}
	if o.hook != nil {
		o.hook(index, out)
	}
}
