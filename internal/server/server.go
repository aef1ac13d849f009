package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/mediakit/internal/audio"
	"github.com/audiolibrelab/mediakit/internal/config"
	"github.com/audiolibrelab/mediakit/internal/media"
	"github.com/audiolibrelab/mediakit/internal/service"
)

const defaultExtension = "aac"

// Server represents the web server for remote control of playback and recording
type Server struct {
	service    *service.Service
	configFile string
	port       string

	// listSources is replaced in tests.
	listSources func(ctx context.Context) ([]string, error)
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	service.Status
	Message string `json:"message,omitempty"`
}

// SourcesResponse represents the JSON response for sources endpoint
type SourcesResponse struct {
	Sources []string `json:"sources"`
}

// ProfilesResponse lists the profiles of the configuration file.
type ProfilesResponse struct {
	Profiles []string `json:"profiles"`
	Active   string   `json:"active"`
}

// New creates a new web server instance around svc
func New(svc *service.Service, configFile string, port string) *Server {
	return &Server{
		service:     svc,
		configFile:  configFile,
		port:        port,
		listSources: audio.ListSources,
	}
}

// Handler returns the routes served by Start.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sources", s.handleSources)
	mux.HandleFunc("/config/profiles", s.handleProfiles)

	// Player endpoints
	mux.HandleFunc("/api/player/load", s.handleLoad)
	mux.HandleFunc("/api/player/play", s.playerAction("play", s.service.Play))
	mux.HandleFunc("/api/player/pause", s.playerAction("pause", s.service.Pause))
	mux.HandleFunc("/api/player/stop", s.playerAction("stop", s.service.StopPlayback))
	mux.HandleFunc("/api/player/toggle", s.handleToggle)
	mux.HandleFunc("/api/player/seek", s.handleSeek)
	mux.HandleFunc("/api/player/volume", s.handleVolume)
	mux.HandleFunc("/api/player/speed", s.handleSpeed)
	mux.HandleFunc("/api/player/looping", s.handleLooping)

	// Recorder endpoints
	mux.HandleFunc("/api/recorder/record", s.handleRecord)
	mux.HandleFunc("/api/recorder/pause", s.handlePauseRecording)
	mux.HandleFunc("/api/recorder/stop", s.handleStopRecording)
	mux.HandleFunc("/api/recorder/toggle", s.handleToggleRecording)
	mux.HandleFunc("/api/recordings/download/", s.handleRecordingDownload)
	return mux
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Get local IP address
	localIP := getLocalIP()

	slog.Info("Starting MediaKit Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func (s *Server) sendSuccess(w http.ResponseWriter, fields map[string]interface{}) {
	response := map[string]interface{}{"success": true}
	for k, v := range fields {
		response[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// statusFor maps service and engine errors to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNoPlayer), errors.Is(err, service.ErrNoRecorder):
		return http.StatusConflict
	case errors.Is(err, media.ErrNotSupported):
		return http.StatusNotImplemented
	case errors.Is(err, media.ErrInvalidPath), errors.Is(err, media.ErrNoPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleStatus returns the current player and recorder status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	st := s.service.Status()
	response := StatusResponse{
		Status:  st,
		Message: generateStatusMessage(st),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func generateStatusMessage(st service.Status) string {
	switch {
	case st.LastError != "":
		return st.LastError
	case st.Recorder != nil && st.Recorder.State == "recording":
		return fmt.Sprintf("Recording %s (%s)", st.Recorder.Path, st.Recorder.SizeHuman)
	case st.Player != nil && st.Player.State == "playing":
		return fmt.Sprintf("Playing %s %s/%s", st.Player.Path, st.Player.Position, st.Player.Duration)
	default:
		return "Standby"
	}
}

// handleSources returns available audio sources
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	sources, err := s.listSources(r.Context())
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list sources: %v", err), "operation", "list_sources")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SourcesResponse{Sources: sources})
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	root, err := config.ReadRoot(s.configFile)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to read config: %v", err), "operation", "list_profiles")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ProfilesResponse{
		Profiles: root.ProfileNames(),
		Active:   s.service.Config().Profile,
	})
}

// handleLoad replaces the current track
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	path := r.FormValue("path")
	if path == "" {
		s.sendErrorResponse(w, http.StatusBadRequest, "Path is required", "operation", "load")
		return
	}

	p, err := s.service.LoadPlayer(r.Context(), path)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to load track: %v", err), "path", path, "operation", "load")
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message":          "Track loaded",
		"path":             path,
		"duration_seconds": max(p.Duration(), 0).Seconds(),
	})
}

func (s *Server) playerAction(name string, action func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		if err := action(r.Context()); err != nil {
			s.sendErrorResponse(w, statusFor(err),
				fmt.Sprintf("Failed to %s: %v", name, err), "operation", name)
			return
		}
		s.sendSuccess(w, map[string]interface{}{"state": s.service.Player().State().String()})
	}
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	paused, err := s.service.TogglePlay(r.Context())
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to toggle playback: %v", err), "operation", "toggle")
		return
	}
	s.sendSuccess(w, map[string]interface{}{"paused": paused})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	seconds, err := strconv.ParseFloat(r.FormValue("position"), 64)
	if err != nil || seconds < 0 {
		s.sendErrorResponse(w, http.StatusBadRequest, "Position must be a number of seconds >= 0", "operation", "seek")
		return
	}

	position := time.Duration(seconds * float64(time.Second))
	applied, err := s.service.Seek(r.Context(), position)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to seek: %v", err), "position", position, "operation", "seek")
		return
	}
	s.sendSuccess(w, map[string]interface{}{"applied": applied})
}

func (s *Server) handleFloatSetter(w http.ResponseWriter, r *http.Request, name string, set func(float64) error) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	v, err := strconv.ParseFloat(r.FormValue("value"), 64)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid %s: %q", name, r.FormValue("value")), "operation", name)
		return
	}
	if err := set(v); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			// Setters only fail on out of range values.
			status = http.StatusBadRequest
		}
		s.sendErrorResponse(w, status, fmt.Sprintf("Failed to set %s: %v", name, err), "operation", name)
		return
	}
	s.sendSuccess(w, map[string]interface{}{name: v})
}

func (s *Server) handleVolume(w http.ResponseWriter, r *http.Request) {
	s.handleFloatSetter(w, r, "volume", s.service.SetVolume)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	s.handleFloatSetter(w, r, "speed", s.service.SetSpeed)
}

func (s *Server) handleLooping(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	v, err := strconv.ParseBool(r.FormValue("value"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid looping: %q", r.FormValue("value")), "operation", "looping")
		return
	}
	if err := s.service.SetLooping(v); err != nil {
		s.sendErrorResponse(w, statusFor(err), fmt.Sprintf("Failed to set looping: %v", err), "operation", "looping")
		return
	}
	s.sendSuccess(w, map[string]interface{}{"looping": v})
}

// recordingName builds a file name from the "song" form value, or from the
// current time when it is empty.
func recordingName(song string, now time.Time) string {
	name := cleanFileName(song)
	if name == "" {
		name = "recording_" + now.Format("2006-01-02_15-04-05")
	}
	if contentType(name) == "application/octet-stream" {
		name += "." + defaultExtension
	}
	return name
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	name := recordingName(r.FormValue("song"), time.Now())
	slog.Info("Server: Starting recording", "name", name)

	fsPath, err := s.service.StartRecording(r.Context(), name)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to start recording: %v", err), "name", name, "operation", "record")
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message": "Recording started",
		"path":    fsPath,
	})
}

func (s *Server) handlePauseRecording(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.service.PauseRecording(r.Context()); err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to pause recording: %v", err), "operation", "pause_recording")
		return
	}
	s.sendSuccess(w, map[string]interface{}{"message": "Recording paused"})
}

// handleStopRecording stops the current recording session
func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	fsPath, err := s.service.StopRecording(r.Context())
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to stop recording: %v", err), "operation", "stop_recording")
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message":      "Recording stopped",
		"path":         fsPath,
		"download_url": "/api/recordings/download/" + filepath.Base(fsPath),
	})
}

func (s *Server) handleToggleRecording(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	name := recordingName(r.FormValue("song"), time.Now())
	stopped, err := s.service.ToggleRecording(r.Context(), name)
	if err != nil {
		s.sendErrorResponse(w, statusFor(err),
			fmt.Sprintf("Failed to toggle recording: %v", err), "operation", "toggle_recording")
		return
	}
	s.sendSuccess(w, map[string]interface{}{"stopped": stopped})
}

// handleRecordingDownload serves a file from the recordings directory
func (s *Server) handleRecordingDownload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/api/recordings/download/")
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		s.sendErrorResponse(w, http.StatusBadRequest, "Invalid file name", "filename", filename)
		return
	}

	path := filepath.Join(s.service.Config().Output.RecordingsDirectory, filename)
	data, err := s.service.ReadRecording(path)
	if err != nil {
		s.sendErrorResponse(w, http.StatusNotFound, "Recording not found", "filename", filename)
		return
	}

	w.Header().Set("Content-Type", contentType(filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".aac":
		return "audio/aac"
	case ".mp4", ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".webm":
		return "audio/webm"
	case ".wav":
		return "audio/wav"
	case ".flac":
		return "audio/flac"
	case ".amr", ".3gp":
		return "audio/amr"
	default:
		return "application/octet-stream"
	}
}

// cleanFileName keeps letters, digits, dots, dashes and underscores; spaces
// become underscores.
func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '-', r == '_':
			result.WriteRune(r)
		case r == ' ':
			result.WriteRune('_')
		}
	}
	return strings.TrimLeft(result.String(), ".")
}

// sendErrorResponse logs and sends a JSON error response
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
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
