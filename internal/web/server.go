package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"imgbatch/internal/batch"
	"imgbatch/internal/config"
	"imgbatch/internal/format"
	"imgbatch/internal/inspector"
	"imgbatch/internal/manifest"
	"imgbatch/internal/metrics"
	"imgbatch/internal/statistics"
	"imgbatch/internal/transformer"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ErrRunInProgress is returned when a run is requested while another one
// has not finished yet.
var ErrRunInProgress = errors.New("operation already in progress")

type Server struct {
	cfg         *config.Config
	log         *logrus.Logger
	router      *mux.Router
	httpServer  *http.Server
	wsUpgrader  websocket.Upgrader
	wsClients   map[*websocket.Conn]bool
	wsMutex     sync.Mutex
	transformer transformer.Transformer
	inspector   *inspector.Inspector
	metrics     *metrics.Collector
	registry    *prometheus.Registry

	// Current operation state
	operationMutex sync.RWMutex
	isRunning      bool
	runID          string
	cancelRun      context.CancelFunc
	currentStats   *statistics.Statistics
	lastOutcomes   []transformer.Outcome
	runs           sync.WaitGroup
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ProcessRequest starts a directory scan. Unset fields fall back to the
// server configuration.
type ProcessRequest struct {
	InputDirectory  string `json:"input_directory"`
	OutputDirectory string `json:"output_directory"`
	MaxWidth        *int   `json:"max_width,omitempty"`
	MaxHeight       *int   `json:"max_height,omitempty"`
	Quality         *int   `json:"quality,omitempty"`
	Convert         *bool  `json:"convert,omitempty"`
	Recursive       *bool  `json:"recursive,omitempty"`
	Flatten         *bool  `json:"flatten,omitempty"`
}

// ManifestRequest starts a manifest run. The manifest is either a file on
// the server or an inline JSON document.
type ManifestRequest struct {
	ManifestPath    string          `json:"manifest_path,omitempty"`
	Manifest        json.RawMessage `json:"manifest,omitempty"`
	InputDirectory  string          `json:"input_directory"`
	OutputDirectory string          `json:"output_directory"`
}

type DirectoryInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	IsDirectory  bool   `json:"is_directory"`
	Kind         string `json:"kind,omitempty"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

// OutcomeView is the JSON form of a transformer outcome.
type OutcomeView struct {
	Index      int      `json:"index"`
	Input      string   `json:"input"`
	Output     string   `json:"output,omitempty"`
	Status     string   `json:"status"`
	Actions    []string `json:"actions"`
	Error      string   `json:"error,omitempty"`
	Line       string   `json:"line"`
	InputSize  int64    `json:"input_size"`
	OutputSize int64    `json:"output_size"`
	DurationMS int64    `json:"duration_ms"`
}

type WSMessage struct {
	Type  string      `json:"type"`
	RunID string      `json:"run_id,omitempty"`
	Data  interface{} `json:"data"`
}

func newOutcomeView(index int, out transformer.Outcome) OutcomeView {
	view := OutcomeView{
		Index:      index,
		Input:      out.InputPath,
		Output:     out.OutputPath,
		Status:     out.Status.String(),
		Actions:    out.Actions,
		Line:       statistics.Symbol(out.Status) + " " + statistics.Line(out),
		InputSize:  out.InputSize,
		OutputSize: out.OutputSize,
		DurationMS: out.Duration().Milliseconds(),
	}
	if out.Err != nil {
		view.Error = out.Err.Error()
	}
	return view
}

// NewServer creates the web server. The transformer is shared by every run.
func NewServer(cfg *config.Config, log *logrus.Logger, tr transformer.Transformer) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(metrics.Options{
		Labels: prometheus.Labels{"target": cfg.Transform.TargetFormat},
	})
	collector.Register(registry)

	s := &Server{
		cfg:         cfg,
		log:         log,
		router:      mux.NewRouter(),
		wsClients:   make(map[*websocket.Conn]bool),
		transformer: tr,
		inspector:   inspector.NewInspector(log),
		metrics:     collector,
		registry:    registry,
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/process", s.handleProcess).Methods("POST")
	api.HandleFunc("/manifest", s.handleManifest).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/info", s.handleInfo).Methods("GET")
	api.HandleFunc("/report", s.handleReport).Methods("GET")
	api.HandleFunc("/directories", s.handleListDirectories).Methods("GET")

	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels the current run, waits for it and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancelCurrentRun()

	waited := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Wait blocks until the current run, if any, has finished.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	runID := s.runID
	stats := s.currentStats
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"run_id":     runID,
			"statistics": statsData,
		},
	})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	opts := s.processOptions(req)
	if err := opts.Validate(); err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := os.Stat(opts.InputDir); os.IsNotExist(err) {
		s.writeError(w, "Input directory does not exist", http.StatusBadRequest)
		return
	}

	runID, err := s.startRun("scan", map[string]interface{}{
		"input_directory":  opts.InputDir,
		"output_directory": opts.OutputDir,
		"flatten":          opts.Flatten,
	}, func(ctx context.Context, orch *batch.Orchestrator) ([]transformer.Outcome, error) {
		return orch.ProcessDirectory(ctx, opts)
	})
	if err != nil {
		s.writeError(w, err.Error(), http.StatusConflict)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Processing started",
		Data:    map[string]string{"run_id": runID},
	})
}

func (s *Server) processOptions(req ProcessRequest) batch.Options {
	opts := batch.OptionsFromConfig(s.cfg)
	if req.InputDirectory != "" {
		opts.InputDir = req.InputDirectory
	}
	if req.OutputDirectory != "" {
		opts.OutputDir = req.OutputDirectory
	}
	if req.MaxWidth != nil {
		opts.MaxWidth = *req.MaxWidth
	}
	if req.MaxHeight != nil {
		opts.MaxHeight = *req.MaxHeight
	}
	if req.Quality != nil {
		opts.Quality = *req.Quality
	}
	if req.Convert != nil {
		opts.Convert = *req.Convert
	}
	if req.Recursive != nil {
		opts.Recursive = *req.Recursive
	}
	if req.Flatten != nil {
		opts.Flatten = *req.Flatten
	}
	return opts
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	var req ManifestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	inputDir := req.InputDirectory
	if inputDir == "" {
		inputDir = s.cfg.InputDirectory
	}
	outputDir := req.OutputDirectory
	if outputDir == "" {
		outputDir = s.cfg.OutputDirectory
	}
	if inputDir == "" || outputDir == "" {
		s.writeError(w, "Input and output directories are required", http.StatusBadRequest)
		return
	}

	var (
		m   *manifest.Manifest
		err error
	)
	switch {
	case len(req.Manifest) > 0:
		m, err = manifest.Parse(req.Manifest, ".json")
	case req.ManifestPath != "":
		m, err = manifest.Load(req.ManifestPath)
	default:
		err = fmt.Errorf("manifest or manifest_path is required")
	}
	if err != nil {
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	runID, err := s.startRun("manifest", map[string]interface{}{
		"manifest":         m.Source,
		"items":            len(m.Items),
		"input_directory":  inputDir,
		"output_directory": outputDir,
	}, func(ctx context.Context, orch *batch.Orchestrator) ([]transformer.Outcome, error) {
		return orch.ProcessManifest(ctx, m, inputDir, outputDir)
	})
	if err != nil {
		s.writeError(w, err.Error(), http.StatusConflict)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Manifest run started",
		Data:    map[string]string{"run_id": runID},
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.cancelCurrentRun() {
		s.writeError(w, "No operation in progress", http.StatusConflict)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Operation stopping",
	})
}

func (s *Server) cancelCurrentRun() bool {
	s.operationMutex.RLock()
	defer s.operationMutex.RUnlock()

	if !s.isRunning || s.cancelRun == nil {
		return false
	}
	s.cancelRun()
	return true
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "Path is required", http.StatusBadRequest)
		return
	}

	info, err := s.inspector.Inspect(filepath.Clean(path))
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		s.writeError(w, err.Error(), status)
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    info,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	outcomes := s.lastOutcomes
	stats := s.currentStats
	running := s.isRunning
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	views := make([]OutcomeView, 0, len(outcomes))
	for i, out := range outcomes {
		views = append(views, newOutcomeView(i, out))
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":    running,
			"lines":      statistics.Lines(outcomes),
			"summary":    statistics.Tally(statistics.Count(outcomes)),
			"outcomes":   views,
			"statistics": stats.Snapshot(),
		},
	})
}

func (s *Server) handleListDirectories(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	// Security check - prevent directory traversal
	path = filepath.Clean(path)
	if strings.Contains(path, "..") {
		s.writeError(w, "Invalid path", http.StatusBadRequest)
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read directory: %v", err), http.StatusInternalServerError)
		return
	}

	directories := make([]DirectoryInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		dir := DirectoryInfo{
			Path:         filepath.Join(path, entry.Name()),
			Name:         entry.Name(),
			IsDirectory:  entry.IsDir(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
		}
		if !entry.IsDir() {
			dir.Kind = format.Classify(filepath.Ext(entry.Name())).String()
		}
		directories = append(directories, dir)
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    directories,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

type runFunc func(ctx context.Context, orch *batch.Orchestrator) ([]transformer.Outcome, error)

// startRun claims the single run slot and executes run in the background.
func (s *Server) startRun(kind string, started map[string]interface{}, run runFunc) (string, error) {
	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		return "", ErrRunInProgress
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	stats := statistics.NewStatistics()

	s.isRunning = true
	s.runID = runID
	s.cancelRun = cancel
	s.currentStats = stats
	s.lastOutcomes = nil
	s.runs.Add(1)
	s.operationMutex.Unlock()

	started["kind"] = kind
	s.broadcastWSMessage("run_started", runID, started)

	go func() {
		defer s.runs.Done()
		defer cancel()

		hook := func(index int, out transformer.Outcome) {
			s.broadcastWSMessage("outcome", runID, newOutcomeView(index, out))
		}
		orch := batch.NewOrchestratorWithHooks(
			s.transformer, s.log, stats, s.cfg.Performance.WorkerThreads, s.metrics, hook)

		outcomes, err := run(ctx, orch)

		s.operationMutex.Lock()
		s.isRunning = false
		s.cancelRun = nil
		s.lastOutcomes = outcomes
		s.operationMutex.Unlock()

		if err != nil {
			s.log.WithError(err).WithField("run_id", runID).Warn("Run did not complete")
			s.broadcastWSMessage("run_error", runID, map[string]interface{}{
				"error":   err.Error(),
				"summary": statistics.Tally(statistics.Count(outcomes)),
			})
			return
		}

		s.broadcastWSMessage("run_completed", runID, map[string]interface{}{
			"summary":    statistics.Tally(statistics.Count(outcomes)),
			"statistics": stats.Snapshot(),
		})
	}()

	return runID, nil
}

// broadcastWSMessage writes one message to every client. Writes are
// serialized since a connection allows only one concurrent writer.
func (s *Server) broadcastWSMessage(messageType, runID string, data interface{}) {
	message := WSMessage{
		Type:  messageType,
		RunID: runID,
		Data:  data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Debug("Failed to write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
