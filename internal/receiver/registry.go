package receiver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"apiremote/internal/interfaces"
	"apiremote/internal/metrics"
	"apiremote/internal/types"
)

// TimestampFormat is ISO-8601 local time with microseconds
const TimestampFormat = "2006-01-02T15:04:05.000000"

// BodyReadError reports a receiver request whose body could not be read or parsed
type BodyReadError struct {
	Path string
	Err  error
}

func (e *BodyReadError) Error() string {
	return fmt.Sprintf("Error processing request at %s: %v", e.Path, e.Err)
}

func (e *BodyReadError) Unwrap() error {
	return e.Err
}

// Stats represents statistics about inbound receivers
type Stats struct {
	Registered int      `json:"registered"`
	Skipped    []string `json:"skipped,omitempty"`
	Received   int64    `json:"received"`
	Errors     int64    `json:"errors"`
}

// Registry holds one handler per configured receive path. It is built once
// at startup and never changes afterwards.
type Registry struct {
	logger   interfaces.EventLogger
	metrics  *metrics.Metrics
	handlers map[string]http.Handler
	paths    []string
	skipped  []string
	now      func() time.Time

	stats      Stats
	statsMutex sync.RWMutex
}

// NewRegistry builds a handler for every path. Paths that collide with a
// built-in route or repeat an earlier entry are skipped with a warning.
func NewRegistry(logger interfaces.EventLogger, paths []string) *Registry {
	r := &Registry{
		logger:   logger,
		metrics:  metrics.Get(),
		handlers: make(map[string]http.Handler, len(paths)),
		now:      time.Now,
	}

	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		path = CleanPath(path)

		switch {
		case IsReserved(path):
			r.skip(path, fmt.Sprintf("Skipping receive endpoint %s: conflicts with a built-in route", path))
		case r.handlers[path] != nil:
			r.skip(path, fmt.Sprintf("Skipping duplicate receive endpoint %s", path))
		default:
			r.handlers[path] = r.newHandler(path)
			r.paths = append(r.paths, path)
		}
	}

	r.stats.Registered = len(r.paths)
	r.stats.Skipped = r.skipped
	return r
}

// CleanPath returns the rooted, cleaned form of a receive path, the form
// ServeMux routes requests by
func CleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// IsReserved reports whether path belongs to a built-in route
func IsReserved(path string) bool {
	switch path {
	case "/", "/api", "/static", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/static/")
}

// Lookup returns the handler registered for an exact path
func (r *Registry) Lookup(path string) (http.Handler, bool) {
	h, ok := r.handlers[path]
	return h, ok
}

// Paths returns the registered receive paths in configuration order
func (r *Registry) Paths() []string {
	paths := make([]string, len(r.paths))
	copy(paths, r.paths)
	return paths
}

// ServeHTTP dispatches to the receiver registered for the request path
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h, ok := r.Lookup(req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}
	h.ServeHTTP(w, req)
}

// GetStats returns receiver statistics
func (r *Registry) GetStats() Stats {
	r.statsMutex.RLock()
	defer r.statsMutex.RUnlock()
	return r.stats
}

func (r *Registry) skip(path, message string) {
	r.skipped = append(r.skipped, path)
	log.Print(message)
	r.logger.LogDetailed(types.LevelWarning, message, map[string]interface{}{"endpoint": path})
}

// newHandler returns the closure serving a single receive path
func (r *Registry) newHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				r.fail(w, req.Method, path, fmt.Errorf("%v", rec))
			}
		}()

		raw, err := io.ReadAll(req.Body)
		if err != nil {
			r.fail(w, req.Method, path, err)
			return
		}

		body, err := decodeBody(req.Header.Get("Content-Type"), raw)
		if err != nil {
			r.fail(w, req.Method, path, fmt.Errorf("invalid JSON body: %w", err))
			return
		}

		method := req.Method
		data := map[string]interface{}{
			"endpoint": path,
			"method":   method,
			"headers":  flattenHeaders(req),
			"body":     body,
		}

		r.logger.LogDashboard(fmt.Sprintf("RECEIVED %s at %s", method, path))
		r.logger.LogDetailed(types.LevelInfo, fmt.Sprintf("Received %s request at %s", method, path), data)
		r.metrics.RecordReceive(path, method, len(raw), nil)
		r.updateStats(func(stats *Stats) {
			stats.Received++
		})

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":   true,
			"message":   "Request received at " + path,
			"method":    method,
			"timestamp": r.now().Format(TimestampFormat),
		})
	}
}

// fail logs a receiver failure and answers 500
func (r *Registry) fail(w http.ResponseWriter, method, path string, err error) {
	readErr := &BodyReadError{Path: path, Err: err}
	message := readErr.Error()

	r.logger.LogDashboard("ERROR: " + message)
	r.logger.LogDetailed(types.LevelError, message, nil)
	r.metrics.RecordReceive(path, method, 0, readErr)
	r.updateStats(func(stats *Stats) {
		stats.Errors++
	})

	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// updateStats safely updates the receiver statistics
func (r *Registry) updateStats(updateFunc func(*Stats)) {
	r.statsMutex.Lock()
	defer r.statsMutex.Unlock()
	updateFunc(&r.stats)
}

// decodeBody parses JSON bodies and returns everything else as text
func decodeBody(contentType string, raw []byte) (interface{}, error) {
	if !isJSON(contentType) || len(bytes.TrimSpace(raw)) == 0 {
		return string(raw), nil
	}

	var body interface{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&body); err != nil {
		return nil, err
	}
	return body, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" ||
		(strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json"))
}

// flattenHeaders joins repeated values with ", " and adds Host, which
// net/http keeps outside the header map
func flattenHeaders(req *http.Request) map[string]string {
	headers := make(map[string]string, len(req.Header)+1)
	for name, values := range req.Header {
		headers[name] = strings.Join(values, ", ")
	}
	if req.Host != "" {
		headers["Host"] = req.Host
	}
	return headers
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error encoding receiver response: %v", err)
	}
}
