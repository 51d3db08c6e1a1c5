package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"imgbatch/internal/batch"
	"imgbatch/internal/config"
	"imgbatch/internal/display"
	"imgbatch/internal/fileutil"
	"imgbatch/internal/inspector"
	"imgbatch/internal/logger"
	"imgbatch/internal/manifest"
	"imgbatch/internal/statistics"
	"imgbatch/internal/transformer"
	"imgbatch/internal/watcher"
	"imgbatch/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile      string
	inputDir     string
	outputDir    string
	manifestPath string
	maxWidth     int
	maxHeight    int
	quality      int
	keepFormat   bool
	noRecursive  bool
	flatten      bool
	targetFormat string
	workers      int
	infoPath     string
	verbose      bool
	quiet        bool
	version      string
	buildTime    string
	port         int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "imgbatch",
	Short: "Resize and convert images for the web in one batch",
	Long: `imgbatch transforms a directory of images into web-ready assets.

Raster images (JPEG, PNG, GIF, BMP, TIFF, WebP) are downscaled to fit the
configured bounds and converted to the target format, WebP by default.
SVG and ICO files are copied unchanged, everything else is skipped.

With --manifest, only the listed images are processed and may be renamed:

  {
    "images": [
      {"input": "photo001.jpg", "output": "hero.webp"},
      {"input": "photo002.png", "output": "about-bg.webp", "max_width": 800}
    ],
    "default": {"max_width": 1200, "quality": 85}
  }`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if infoPath != "" {
			return runInfo(infoPath)
		}
		return runTransform(cmd.Flags())
	},
}

// infoCmd prints what the pipeline sees in a single file.
var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show size, format and colour mode of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(args[0])
	},
}

// watchCmd transforms files as they change.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the input directory and transform files as they change",
	Long: `Watches the input directory (recursively unless --no-recursive is set)
and transforms every created or modified image with the same rules as a
directory run. Rapid successive writes to a file are debounced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch(cmd.Flags())
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP server that runs batches on request.
Progress is streamed over a WebSocket at /ws and metrics are exported
at /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Flags())
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := config.DefaultConfig()

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	pf.BoolVar(&verbose, "verbose", false, "enable verbose logging")
	pf.BoolVar(&quiet, "quiet", false, "suppress non-error output")

	pf.StringVarP(&inputDir, "input", "i", "", "input directory")
	pf.StringVarP(&outputDir, "output", "o", "", "output directory")
	pf.IntVarP(&maxWidth, "max-width", "W", defaults.Transform.MaxWidth, "maximum width, 0 for unbounded")
	pf.IntVarP(&maxHeight, "max-height", "H", defaults.Transform.MaxHeight, "maximum height, 0 for unbounded")
	pf.IntVarP(&quality, "quality", "q", defaults.Transform.Quality, "encoder quality 1-100")
	pf.BoolVarP(&keepFormat, "keep-format", "k", false, "keep the original format instead of converting")
	pf.BoolVar(&noRecursive, "no-recursive", false, "do not descend into subdirectories")
	pf.BoolVarP(&flatten, "flatten", "f", false, "write all outputs directly into the output directory")
	pf.StringVar(&targetFormat, "target-format", defaults.Transform.TargetFormat, "conversion target format")
	pf.IntVar(&workers, "workers", defaults.Performance.WorkerThreads, "number of images transformed in parallel")

	rootCmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "JSON or YAML manifest listing the images to process")
	rootCmd.Flags().StringVar(&infoPath, "info", "", "print information about one image and exit")

	serveCmd.Flags().IntVar(&port, "port", defaults.Server.Port, "port to run web server on")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
}

// initConfig lets IMGBATCH_CONFIG point at the config file when --config
// is not given.
func initConfig() {
	viper.SetEnvPrefix("IMGBATCH")
	if err := viper.BindEnv("config"); err != nil {
		return
	}
	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
}

// runTransform executes a directory or manifest run.
func runTransform(flags *pflag.FlagSet) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireDirectories(cfg); err != nil {
		return err
	}

	// Manifest problems are fatal before any file is touched.
	var m *manifest.Manifest
	if cfg.Manifest != "" {
		if m, err = manifest.Load(cfg.Manifest); err != nil {
			return fmt.Errorf("failed to load manifest: %w", err)
		}
	}

	log := setupLogger(cfg)
	tr, err := transformer.NewDefaultTransformer(cfg.TargetFormat(), log)
	if err != nil {
		return err
	}

	stats := statistics.NewStatistics()
	orch := batch.NewOrchestrator(tr, log, stats, cfg.Performance.WorkerThreads)
	printer := display.NewPrinter(stdout())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var outcomes []transformer.Outcome
	if m != nil {
		printer.Header(
			[2]string{"manifest", cfg.Manifest},
			[2]string{"input", cfg.InputDirectory},
			[2]string{"output", cfg.OutputDirectory},
		)
		outcomes, err = orch.ProcessManifest(ctx, m, cfg.InputDirectory, cfg.OutputDirectory)
	} else {
		printer.Header(
			[2]string{"input", cfg.InputDirectory},
			[2]string{"output", cfg.OutputDirectory},
			[2]string{"max size", bound(cfg.Transform.MaxWidth) + " x " + bound(cfg.Transform.MaxHeight)},
			[2]string{"convert", conversion(cfg)},
			[2]string{"quality", strconv.Itoa(cfg.Transform.Quality)},
		)
		outcomes, err = orch.ProcessDirectory(ctx, batch.OptionsFromConfig(cfg))
	}

	printer.Report(outcomes)
	if verbose {
		printer.Details(stats.GetDetailedSummary())
	}
	if err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}

	// Per-item failures only change the exit status of directory runs.
	if m == nil && stats.HasFailures() {
		return fmt.Errorf("%d item(s) failed", stats.GetFailed())
	}
	return nil
}

// runInfo prints information about a single image.
func runInfo(path string) error {
	if !fileutil.FileExists(path) {
		return fmt.Errorf("file does not exist: %s", path)
	}

	log := setupLogger(config.DefaultConfig())
	in := inspector.NewInspector(log)
	if et, err := inspector.NewExifTool(); err != nil {
		log.WithError(err).Debug("exiftool unavailable, using embedded EXIF parser only")
	} else {
		defer et.Close()
		in.WithFallback(et)
	}

	info, err := in.Inspect(path)
	if err != nil {
		return err
	}

	display.NewPrinter(os.Stdout).Info(info)
	return nil
}

// runWatch transforms files as they change until interrupted.
func runWatch(flags *pflag.FlagSet) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireDirectories(cfg); err != nil {
		return err
	}

	log := setupLogger(cfg)
	tr, err := transformer.NewDefaultTransformer(cfg.TargetFormat(), log)
	if err != nil {
		return err
	}

	stats := statistics.NewStatistics()
	printer := display.NewPrinter(stdout())
	orch := batch.NewOrchestratorWithHooks(tr, log, stats, 1, nil, func(_ int, out transformer.Outcome) {
		printer.Outcome(out)
	})

	w, err := watcher.NewWatcher(batch.OptionsFromConfig(cfg), orch, log, cfg.Debounce())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer.Header(
		[2]string{"watching", cfg.InputDirectory},
		[2]string{"output", cfg.OutputDirectory},
	)
	if err := w.Run(ctx); err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}

	snap := stats.Snapshot()
	printer.Summary(snap.Succeeded, snap.Skipped, snap.Failed)
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(flags *pflag.FlagSet) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	tr, err := transformer.NewDefaultTransformer(cfg.TargetFormat(), log)
	if err != nil {
		return err
	}
	server := web.NewServer(cfg, log, tr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Fprintf(stdout(), "imgbatch API listening on http://localhost:%d\n", cfg.Server.Port)
	fmt.Fprintf(stdout(), "Press Ctrl+C to stop the server\n")

	<-sigChan
	fmt.Fprintln(stdout(), "Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// loadConfig loads configuration and applies the flags set on the command line.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if flags.Changed("input") {
		cfg.InputDirectory = inputDir
	}
	if flags.Changed("output") {
		cfg.OutputDirectory = outputDir
	}
	if flags.Changed("manifest") {
		cfg.Manifest = manifestPath
	}
	if flags.Changed("max-width") {
		cfg.Transform.MaxWidth = maxWidth
	}
	if flags.Changed("max-height") {
		cfg.Transform.MaxHeight = maxHeight
	}
	if flags.Changed("quality") {
		cfg.Transform.Quality = quality
	}
	if flags.Changed("keep-format") {
		cfg.Transform.Convert = !keepFormat
	}
	if flags.Changed("target-format") {
		cfg.Transform.TargetFormat = targetFormat
	}
	if flags.Changed("no-recursive") {
		cfg.Traversal.Recursive = !noRecursive
	}
	if flags.Changed("flatten") {
		cfg.Traversal.Flatten = flatten
	}
	if flags.Changed("workers") {
		cfg.Performance.WorkerThreads = workers
	}
	if flags.Changed("port") {
		cfg.Server.Port = port
	}

	// Flags bypass the checks LoadConfig ran on the file values.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireDirectories(cfg *config.Config) error {
	if cfg.InputDirectory == "" || cfg.OutputDirectory == "" {
		return errors.New("--input and --output are required")
	}
	if !fileutil.DirExists(cfg.InputDirectory) {
		return fmt.Errorf("input directory does not exist: %s", cfg.InputDirectory)
	}
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.Config{
		Level:    cfg.Logging.Level,
		FilePath: cfg.Logging.FilePath,
		Rotation: logger.Rotation{
			MaxSize:    cfg.Logging.MaxSize,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAge,
			Compress:   cfg.Logging.Compress,
		},
		Verbose: verbose,
		Quiet:   quiet,
	}

	log, err := logger.New(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func stdout() io.Writer {
	if quiet {
		return io.Discard
	}
	return os.Stdout
}

func bound(v int) string {
	if v == 0 {
		return "unbounded"
	}
	return strconv.Itoa(v)
}

func conversion(cfg *config.Config) string {
	if !cfg.Transform.Convert {
		return "keep format"
	}
	return cfg.TargetFormat().String()
}

func main() {
	if version != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
