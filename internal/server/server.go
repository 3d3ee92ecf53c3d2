// Package server provides the HTTP server: health, live detections, history, preview and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ayusman/aicam/internal/capture"
	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/labels"
	"github.com/ayusman/aicam/internal/server/api"
	"github.com/ayusman/aicam/internal/store"
	"github.com/cyclopcam/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder switches the detection history on and off.
type Recorder interface {
	IsRecording() bool
	SetRecording(on bool) error
}

// Config holds the server configuration. Routes whose dependencies are nil are not registered.
type Config struct {
	StaticDir string
	Log       logs.Log
	Labels    *labels.Catalog
	Latest    *detection.Latest
	Store     *store.Store
	Camera    capture.Camera
	Recorder  Recorder
	Gatherer  prometheus.Gatherer
}

// Server represents the HTTP server of the application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	live   *LiveHandler
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Latest != nil && s.config.Labels != nil {
		s.mux.HandleFunc("/api/detections", s.handleDetections)
		s.live = NewLiveHandler(s.config.Log, s.config.Labels, s.config.Latest)
		s.mux.Handle("/api/live", s.live)
	}

	if s.config.Store != nil {
		frames := api.NewFramesHandler(s.config.Store)
		s.mux.Handle("/api/frames", frames)
		s.mux.Handle("/api/frames/", frames)
		s.mux.Handle("/api/stats", api.NewStatsHandler(s.config.Store))
	}

	if s.config.Recorder != nil {
		s.mux.HandleFunc("/api/recording", s.handleRecording)
	}

	if s.config.Camera != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Camera))
	}

	if s.config.Gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Camera != nil {
		response["camera_open"] = s.config.Camera.IsOpen()
	}
	writeJSON(w, http.StatusOK, response)
}

// handleDetections handles GET /api/detections with the latest detections and their labels.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, newDetectionsMessage(s.config.Labels, s.config.Latest.Load()))
}

type recordingMessage struct {
	Recording bool `json:"recording"`
}

// handleRecording reports (GET) or switches (PUT) the detection history.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPut:
		var req recordingMessage
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		if err := s.config.Recorder.SetRecording(req.Recording); err != nil {
			http.Error(w, "Failed to save setting", http.StatusInternalServerError)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, recordingMessage{Recording: s.config.Recorder.IsRecording()})
}

// Run serves HTTP on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if s.config.Log != nil {
		s.config.Log.Infof("HTTP server listening on %v", addr)
	}
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		err = nil
	}
	s.Close()
	return err
}

// Close stops background work started by New.
func (s *Server) Close() {
	if s.live != nil {
		s.live.Close()
	}
}
