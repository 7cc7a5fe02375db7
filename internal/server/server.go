package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/audio"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/service"
	"github.com/Emperor-Trillion/TTS-Tool-sub000/internal/sink"
)

// Server exposes the recording service over HTTP for remote control
type Server struct {
	service  service.Service
	port     string
	gatherer prometheus.Gatherer
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.Status
	Message string `json:"message"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Backend string   `json:"backend"`
	Sources []string `json:"sources"`
}

// FilesResponse represents the JSON response for files endpoint
type FilesResponse struct {
	Files []service.RecordingInfo `json:"files"`
	Count int                     `json:"count"`
}

// GenericResponse is returned by the control endpoints
type GenericResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Location string `json:"location,omitempty"`
	Error    string `json:"error,omitempty"`
}

// New creates a new web server instance. gatherer may be nil to disable /metrics.
func New(svc service.Service, port string, gatherer prometheus.Gatherer) *Server {
	return &Server{
		service:  svc,
		port:     port,
		gatherer: gatherer,
	}
}

// Handler returns the routes served by Start
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/begin", s.handleBegin)
	mux.HandleFunc("/end", s.handleEnd)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/api/files", s.handleFiles)
	mux.HandleFunc("/api/files/download/", s.handleFileDownload)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	localIP := getLocalIP()
	slog.Info("Starting TTS recorder web server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleIndex serves a minimal control page
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>TTS Recorder</title>
</head>
<body>
    <h1>TTS Recorder</h1>
    <form method="post" action="/begin">
        <input name="label" placeholder="utterance label">
        <button type="submit">Begin</button>
    </form>
    <form method="post" action="/end"><button type="submit">End</button></form>
    <h2>API Endpoints:</h2>
    <ul>
        <li>POST /begin - Start recording (form: label, or destination file name)</li>
        <li>POST /end - Stop recording</li>
        <li>GET /status - Get status</li>
        <li>GET /history - Finished sessions</li>
        <li>GET /sources - Capture sources</li>
        <li>GET /api/files - Recordings in the output directory</li>
    </ul>
</body>
</html>`

// handleBegin starts a session. A destination form value names the file
// inside the configured output directory; it cannot point anywhere else.
func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid form data", "error", err)
		return
	}

	label := strings.TrimSpace(r.FormValue("label"))
	destination := strings.TrimSpace(r.FormValue("destination"))

	var location string
	var err error
	if destination != "" {
		location, err = sink.Within(s.service.GetConfig().Output.Directory, destination)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "begin")
			return
		}
		if !strings.Contains(location, "://") {
			if _, statErr := os.Stat(location); statErr == nil {
				s.sendErrorResponse(w, http.StatusConflict,
					fmt.Sprintf("Recording %s already exists", filepath.Base(location)),
					"operation", "begin")
				return
			}
		}
		err = s.service.BeginTo(r.Context(), location)
	} else {
		location, err = s.service.Begin(r.Context(), label)
	}
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"operation", "begin", "label", label)
		return
	}

	slog.Info("Recording started via web", "label", label, "location", location)
	writeJSON(w, http.StatusOK, GenericResponse{
		Success:  true,
		Message:  "Recording started",
		Location: location,
	})
}

// handleEnd stops the current session and waits for the file to be written
func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.End(); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to stop recording: %v", err),
			"operation", "end")
		return
	}

	record, err := s.service.Wait(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed waiting for recording: %v", err),
			"operation", "end")
		return
	}
	if !record.Saved {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Recording was not saved: %s", strings.Join(record.Errors, "; ")),
			"operation", "end", "session", record.ID)
		return
	}

	writeJSON(w, http.StatusOK, GenericResponse{
		Success:  true,
		Message:  "Recording saved",
		Location: record.Location,
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	status := s.service.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:  status,
		Message: statusMessage(status),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.service.History(),
	})
}

// handleSources returns the capture sources of the active backend
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	sources, err := s.service.Sources()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list sources: %v", err),
			"operation", "sources")
		return
	}
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, SourcesResponse{
		Backend: s.service.Status().Backend,
		Sources: sources,
	})
}

// handleFiles lists the recordings in the output directory
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	files, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err),
			"operation", "files")
		return
	}
	writeJSON(w, http.StatusOK, FilesResponse{Files: files, Count: len(files)})
}

// handleFileDownload serves one recording from the output directory
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/files/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") || strings.Contains(filename, "\\") {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}
	if strings.ToLower(filepath.Ext(filename)) != ".wav" {
		http.Error(w, "Unsupported file type", http.StatusBadRequest)
		return
	}

	filePath := filepath.Join(s.service.GetConfig().Output.Directory, filename)
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Error accessing file", http.StatusInternalServerError)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func statusMessage(status service.Status) string {
	switch status.State {
	case audio.StateIdle:
		return "Ready to record"
	case audio.StateStarting:
		return "Opening microphone"
	case audio.StateRecording:
		if status.Session != nil {
			elapsed := time.Since(status.Session.StartTime).Round(time.Second)
			return fmt.Sprintf("Recording for %s", elapsed)
		}
		return "Recording"
	case audio.StateStopping:
		return "Stopping capture"
	case audio.StateFinalizing:
		return "Writing recording"
	}
	return string(status.State)
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, audio.ErrSessionActive), errors.Is(err, audio.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	writeJSON(w, http.StatusMethodNotAllowed, GenericResponse{
		Success: false,
		Error:   "Method not allowed",
	})
	return false
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, GenericResponse{
		Success: false,
		Error:   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
