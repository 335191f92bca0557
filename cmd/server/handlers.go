//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/himanishpuri/TapSense/internal/config"
	"github.com/himanishpuri/TapSense/internal/stream"
	"github.com/himanishpuri/TapSense/pkg/logger"
	"github.com/himanishpuri/TapSense/pkg/tapsense"
	"github.com/himanishpuri/TapSense/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service   tapsense.Service
	config    *ServerConfig
	hot       *config.HotConfig
	stream    *stream.Handler
	log       *logger.Logger
	startedAt time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	TempDir        string
	SampleRate     int
	AllowedOrigins []string
	MaxUploadMB    int
}

// NewServer creates a new server instance. hot may be nil, in which case
// the service's detector tuning is used for every request.
func NewServer(service tapsense.Service, cfg *ServerConfig, hot *config.HotConfig) *Server {
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = DefaultMaxUploadMB
	}
	s := &Server{
		service:   service,
		config:    cfg,
		hot:       hot,
		log:       logger.GetLogger().With("[http]"),
		startedAt: time.Now(),
	}
	s.stream = stream.NewHandler(s.detectorConfig, cfg.SampleRate, cfg.AllowedOrigins, logger.GetLogger())
	return s
}

// detectorConfig returns the tuning new analyses and sessions start with.
func (s *Server) detectorConfig() tapsense.DetectorConfig {
	if s.hot != nil {
		if dc, err := s.hot.Get().DetectorConfig(); err == nil {
			return dc
		}
	}
	return s.service.DetectorConfig()
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// storageError maps run lookup errors to a status code.
func (s *Server) storageError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, tapsense.ErrNoStorage):
		s.respondError(w, http.StatusServiceUnavailable, "Run storage is disabled")
	case errors.Is(err, tapsense.ErrRunNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Errorf("%s: %v", what, err)
		s.respondError(w, http.StatusInternalServerError, what)
	}
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "TapSense API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":    "GET /health",
			"metrics":   "GET /api/health/metrics",
			"config":    "GET /api/config",
			"detect":    "POST /api/detect",
			"runs":      "GET /api/runs",
			"getRun":    "GET /api/runs/{id}",
			"deleteRun": "DELETE /api/runs/{id}",
			"stream":    "GET /api/stream (websocket)",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	resp := MetricsResponse{
		Status:        "healthy",
		DatabasePath:  s.config.DBPath,
		SampleRate:    s.config.SampleRate,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}

	runs, err := s.service.ListRuns()
	switch {
	case errors.Is(err, tapsense.ErrNoStorage):
		resp.DatabasePath = ""
	case err != nil:
		s.log.Errorf("Failed to get run count: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}
	resp.RunCount = len(runs)
	for _, run := range runs {
		resp.TapCount += run.Singles + run.Doubles
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// handleConfig handles GET /api/config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.respondJSON(w, http.StatusOK, newConfigResponse(s.detectorConfig(), s.config.SampleRate))
}

// handleDetect handles POST /api/detect (multipart file upload)
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.config.MaxUploadMB)<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d MB", s.config.MaxUploadMB))
			return
		}
		s.log.Warnf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	presence, err := formBool(r, "presence")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	save, err := formBool(r, "save")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	frames, err := formBool(r, "frames")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	// Save under a per-upload directory so the run keeps the client's file
	// name and ffmpeg can probe the extension
	uploadDir := filepath.Join(s.config.TempDir, "upload_"+uuid.NewString())
	if err := utils.MakeDir(uploadDir); err != nil {
		s.log.Errorf("Failed to create upload dir: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return
	}
	defer os.RemoveAll(uploadDir)

	name := filepath.Base(header.Filename)
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	tempFile := filepath.Join(uploadDir, name)
	out, err := os.Create(tempFile)
	if err != nil {
		s.log.Errorf("Failed to create temp file: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return
	}

	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		s.log.Errorf("Failed to save file: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}
	out.Close()

	dc := s.detectorConfig()
	res, err := s.service.AnalyzeFile(ctx, tempFile, tapsense.AnalyzeOptions{
		Detector: &dc,
		Presence: presence,
		Frames:   frames,
		Persist:  save,
	})
	if err != nil {
		if errors.Is(err, tapsense.ErrNoStorage) {
			s.respondError(w, http.StatusServiceUnavailable, "Run storage is disabled")
			return
		}
		s.log.Warnf("Detection failed for %s: %v", header.Filename, err)
		s.respondError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Detection failed: %v", err))
		return
	}

	status := http.StatusOK
	if save {
		status = http.StatusCreated
	}
	s.log.Infof("Detected %d single / %d double in %s", res.Singles, res.Doubles, header.Filename)
	s.respondJSON(w, status, res)
}

func formBool(r *http.Request, key string) (bool, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

// handleRuns handles GET /api/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	runs, err := s.service.ListRuns()
	if err != nil {
		s.storageError(w, err, "Failed to retrieve runs")
		return
	}
	if runs == nil {
		runs = []tapsense.Run{}
	}
	s.respondJSON(w, http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}

// handleRun routes requests to /api/runs/{id}
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if id == "" || strings.Contains(id, "/") {
		s.respondError(w, http.StatusBadRequest, "Run ID required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		run, err := s.service.GetRun(id)
		if err != nil {
			s.storageError(w, err, "Failed to retrieve run")
			return
		}
		s.respondJSON(w, http.StatusOK, run)
	case http.MethodDelete:
		if err := s.service.DeleteRun(id); err != nil {
			s.storageError(w, err, "Failed to delete run")
			return
		}
		s.log.Infof("Deleted run %s", id)
		s.respondJSON(w, http.StatusOK, DeleteRunResponse{Message: "Run deleted successfully", ID: id})
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
