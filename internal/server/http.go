package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"apiremote/internal/dispatcher"
	"apiremote/internal/interfaces"
	"apiremote/internal/receiver"
	"apiremote/internal/service"
	"apiremote/internal/types"
)

// sendSlots is the minimum number of send rows rendered on the index page
const sendSlots = 4

// HTTPServer serves the operator page, the JSON API and the receiver routes
type HTTPServer struct {
	config     *types.Config
	settings   *types.Settings
	eventLog   interfaces.EventLog
	dispatcher interfaces.Dispatcher
	receivers  *receiver.Registry

	staticFS fs.FS
	index    *template.Template

	server    *http.Server
	listener  net.Listener
	startTime time.Time

	// Server lifecycle
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	isRunning  bool
	runningMux sync.RWMutex

	// Statistics
	stats      HTTPServerStats
	statsMutex sync.RWMutex
}

// HTTPServerStats represents statistics about the HTTP server
type HTTPServerStats struct {
	RequestsHandled int64 `json:"requests_handled"`
	RequestErrors   int64 `json:"request_errors"`
	SendRequests    int64 `json:"send_requests"`
	IsRunning       bool  `json:"is_running"`
}

// APIResponse represents a standard API response structure
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SendResponse is the success body of /api/send
type SendResponse struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Response   string `json:"response"`
}

// LogsResponse is the body of /api/logs
type LogsResponse struct {
	Logs []string `json:"logs"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Services  map[string]interface{} `json:"services"`
}

// dispatchReporter is implemented by dispatchers that expose statistics
type dispatchReporter interface {
	GetStats() dispatcher.Stats
	LatencyStats() map[string]interface{}
}

type receiverLink struct {
	Path string
	URL  string
}

type indexPage struct {
	SendSlots []string
	Receivers []receiverLink
	LogPath   string
}

// NewHTTPServer creates a new HTTP server. assets must contain
// templates/index.html and a static/ directory.
func NewHTTPServer(config *types.Config, settings *types.Settings, eventLog interfaces.EventLog,
	sender interfaces.Dispatcher, receivers *receiver.Registry, assets fs.FS) (*HTTPServer, error) {
	index, err := template.New("index.html").Funcs(template.FuncMap{
		"inc": func(i int) int { return i + 1 },
	}).ParseFS(assets, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}

	staticFS, err := fs.Sub(assets, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to open static files: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &HTTPServer{
		config:     config,
		settings:   settings,
		eventLog:   eventLog,
		dispatcher: sender,
		receivers:  receivers,
		staticFS:   staticFS,
		index:      index,
		startTime:  time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start binds the listen address and serves in the background
func (s *HTTPServer) Start() error {
	s.runningMux.Lock()
	defer s.runningMux.Unlock()

	if s.isRunning {
		return fmt.Errorf("HTTP server is already running")
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// No WriteTimeout: /api/send blocks for as long as the outbound call does
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return s.ctx },
	}
	s.listener = listener
	s.startTime = time.Now()
	s.isRunning = true

	s.updateStats(func(stats *HTTPServerStats) {
		stats.IsRunning = true
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		log.Printf("HTTP server listening on %s", listener.Addr())
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.runningMux.Lock()
	defer s.runningMux.Unlock()

	if !s.isRunning {
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	err := s.server.Shutdown(shutdownCtx)

	// Cancel in-flight dispatches only after Shutdown stopped accepting work
	s.cancel()
	s.wg.Wait()

	s.isRunning = false
	s.updateStats(func(stats *HTTPServerStats) {
		stats.IsRunning = false
	})

	if err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		return err
	}

	log.Printf("HTTP server stopped")
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *HTTPServer) Addr() net.Addr {
	s.runningMux.RLock()
	defer s.runningMux.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// GetStats returns server statistics
func (s *HTTPServer) GetStats() HTTPServerStats {
	s.statsMutex.RLock()
	defer s.statsMutex.RUnlock()
	return s.stats
}

// Handler returns the routed handler with CORS applied
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return s.corsMiddleware(mux)
}

// setupRoutes configures all HTTP routes
func (s *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// API routes
	mux.HandleFunc("/api/send", s.handleSend)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	// Static file serving
	mux.HandleFunc("/static/", s.handleStatic)

	// Index page and receiver routes
	mux.HandleFunc("/", s.handleRoot)
}

// corsMiddleware allows every origin and answers API preflights
func (s *HTTPServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS")
		if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
			header.Set("Access-Control-Allow-Headers", requested)
		} else {
			header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions && strings.HasPrefix(r.URL.Path, "/api/") {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRoot serves receiver routes and, for exactly "/", the index page
func (s *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.updateStats(func(stats *HTTPServerStats) {
		stats.RequestsHandled++
	})

	if s.receivers != nil {
		if h, ok := s.receivers.Lookup(r.URL.Path); ok {
			h.ServeHTTP(w, r)
			return
		}
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.handleIndex(w, r)
}

// handleIndex renders the operator page
func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := indexPage{
		SendSlots: make([]string, 0, sendSlots),
		LogPath:   s.eventLog.DetailedLogPath(),
	}
	if s.settings != nil {
		page.SendSlots = append(page.SendSlots, s.settings.SendEndpoints...)
	}
	for len(page.SendSlots) < sendSlots {
		page.SendSlots = append(page.SendSlots, "")
	}

	if s.receivers != nil {
		base := baseURL(r)
		for _, path := range s.receivers.Paths() {
			page.Receivers = append(page.Receivers, receiverLink{Path: path, URL: base + path})
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, page); err != nil {
		log.Printf("Error rendering index page: %v", err)
	}
}

// handleStatic serves static files (CSS, JS, etc.)
func (s *HTTPServer) handleStatic(w http.ResponseWriter, r *http.Request) {
	s.updateStats(func(stats *HTTPServerStats) {
		stats.RequestsHandled++
	})

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/static/")
	if path == "" || strings.HasSuffix(path, "/") {
		http.NotFound(w, r)
		return
	}

	data, err := fs.ReadFile(s.staticFS, path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	switch {
	case strings.HasSuffix(path, ".css"):
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
	case strings.HasSuffix(path, ".js"):
		w.Header().Set("Content-Type", "application/javascript")
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

// handleSend performs an outbound call on behalf of the operator
func (s *HTTPServer) handleSend(w http.ResponseWriter, r *http.Request) {
	s.updateStats(func(stats *HTTPServerStats) {
		stats.RequestsHandled++
		stats.SendRequests++
	})

	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	result, err := s.dispatcher.SendJSON(r.Context(), r.Body)
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.sendJSONResponse(w, http.StatusOK, SendResponse{
		Success:    true,
		StatusCode: result.StatusCode,
		Response:   result.Response,
	})
}

// handleLogs returns the dashboard log
func (s *HTTPServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.updateStats(func(stats *HTTPServerStats) {
		stats.RequestsHandled++
	})

	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.sendJSONResponse(w, http.StatusOK, LogsResponse{Logs: s.eventLog.Dashboard()})
}

// handleEvents searches the event index
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	s.updateStats(func(stats *HTTPServerStats) {
		stats.RequestsHandled++
	})

	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query, err := parseEventQuery(r)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid query parameters: %v", err))
		return
	}

	events, err := s.eventLog.Search(query)
	if errors.Is(err, service.ErrIndexDisabled) {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, "Event index is disabled")
		return
	}
	if err != nil {
		log.Printf("Error searching events: %v", err)
		s.sendErrorResponse(w, http.StatusInternalServerError, "Failed to search events")
		return
	}
	if events == nil {
		events = []*types.DetailedEntry{}
	}

	s.sendJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    events,
	})
}

// handleHealth handles the health check endpoint
func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.updateStats(func(stats *HTTPServerStats) {
		stats.RequestsHandled++
	})

	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	services := map[string]interface{}{
		"logger":      s.eventLog.GetStats(),
		"http_server": s.GetStats(),
	}
	if s.receivers != nil {
		services["receivers"] = s.receivers.GetStats()
	}
	if reporter, ok := s.dispatcher.(dispatchReporter); ok {
		services["dispatcher"] = map[string]interface{}{
			"stats":   reporter.GetStats(),
			"latency": reporter.LatencyStats(),
		}
	}

	s.sendJSONResponse(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   getVersion(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Services:  services,
	})
}

// parseEventQuery parses /api/events query parameters
func parseEventQuery(r *http.Request) (types.EventQuery, error) {
	q := r.URL.Query()
	query := types.EventQuery{
		Text: strings.TrimSpace(q.Get("text")),
	}

	if level := q.Get("level"); level != "" {
		parsed, ok := types.ParseLevel(level)
		if !ok {
			return query, fmt.Errorf("invalid level: %s", level)
		}
		query.Level = parsed
	}

	for _, bound := range []struct {
		name   string
		target **time.Time
	}{
		{"start_time", &query.StartTime},
		{"end_time", &query.EndTime},
	} {
		value := q.Get(bound.name)
		if value == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return query, fmt.Errorf("invalid %s: %w", bound.name, err)
		}
		*bound.target = &t
	}

	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return query, fmt.Errorf("invalid limit: %s", limit)
		}
		query.Limit = n
	}

	if offset := q.Get("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return query, fmt.Errorf("invalid offset: %s", offset)
		}
		query.Offset = n
	}

	return query, nil
}

// sendJSONResponse sends a JSON response
func (s *HTTPServer) sendJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

// sendErrorResponse sends an error response
func (s *HTTPServer) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.updateStats(func(stats *HTTPServerStats) {
		stats.RequestErrors++
	})

	s.sendJSONResponse(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// updateStats safely updates the server statistics
func (s *HTTPServer) updateStats(updateFunc func(*HTTPServerStats)) {
	s.statsMutex.Lock()
	defer s.statsMutex.Unlock()
	updateFunc(&s.stats)
}

// baseURL returns the scheme and host the request was addressed to
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// version is overridden at build time with -ldflags "-X apiremote/internal/server.version=..."
var version = "1.0.0"

// getVersion returns the application version
func getVersion() string {
	return version
}
