package receiver

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"apiremote/internal/types"
)

type detailedCall struct {
	level   types.Level
	message string
	data    interface{}
}

// MockLogger implements the EventLogger interface for testing
type MockLogger struct {
	dashboard []string
	detailed  []detailedCall
	mutex     sync.Mutex
}

func (m *MockLogger) LogDashboard(message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.dashboard = append(m.dashboard, message)
}

func (m *MockLogger) LogDetailed(level types.Level, message string, data interface{}) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.detailed = append(m.detailed, detailedCall{level: level, message: message, data: data})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestNewRegistry_RegistersPaths(t *testing.T) {
	registry := NewRegistry(&MockLogger{}, []string{"/hook/a", "hook/b", " ", "/hook/c"})

	paths := registry.Paths()
	want := []string{"/hook/a", "/hook/b", "/hook/c"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, paths)
	}
	if _, ok := registry.Lookup("/hook/b"); !ok {
		t.Error("Expected /hook/b to be registered")
	}
	if _, ok := registry.Lookup("/hook"); ok {
		t.Error("Did not expect prefix match")
	}
}

func TestNewRegistry_SkipsReservedAndDuplicates(t *testing.T) {
	logger := &MockLogger{}
	registry := NewRegistry(logger, []string{"/", "/api/send", "/static/app.js", "/metrics", "/hook", "/hook"})

	if paths := registry.Paths(); len(paths) != 1 || paths[0] != "/hook" {
		t.Errorf("Expected only /hook, got %v", paths)
	}

	stats := registry.GetStats()
	if stats.Registered != 1 || len(stats.Skipped) != 5 {
		t.Errorf("Unexpected stats %+v", stats)
	}
	if len(logger.detailed) != 5 {
		t.Fatalf("Expected 5 warnings, got %d", len(logger.detailed))
	}
	for _, call := range logger.detailed {
		if call.level != types.LevelWarning {
			t.Errorf("Expected warning level, got %s", call.level)
		}
	}
	if !strings.Contains(logger.detailed[4].message, "duplicate") {
		t.Errorf("Expected duplicate warning, got %q", logger.detailed[4].message)
	}
	if len(logger.dashboard) != 0 {
		t.Error("Skipped paths should not reach the dashboard")
	}
}

func TestIsReserved(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/", true},
		{"/api", true},
		{"/api/logs", true},
		{"/static/style.css", true},
		{"/metrics", true},
		{"/apis", false},
		{"/webhook", false},
		{"/hook/api/x", false},
	}

	for _, tt := range tests {
		if got := IsReserved(tt.path); got != tt.want {
			t.Errorf("IsReserved(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestReceiver_JSONBody(t *testing.T) {
	logger := &MockLogger{}
	registry := NewRegistry(logger, []string{"/hook/a"})
	registry.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.Local) }

	req := httptest.NewRequest(http.MethodPost, "/hook/a", strings.NewReader(`{"x":1}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	registry.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decodeResponse(t, w)
	if body["success"] != true || body["message"] != "Request received at /hook/a" || body["method"] != "POST" {
		t.Errorf("Unexpected response %v", body)
	}
	if body["timestamp"] != "2024-05-06T07:08:09.123456" {
		t.Errorf("Unexpected timestamp %v", body["timestamp"])
	}

	if len(logger.dashboard) != 1 || logger.dashboard[0] != "RECEIVED POST at /hook/a" {
		t.Errorf("Unexpected dashboard %v", logger.dashboard)
	}
	if len(logger.detailed) != 1 || logger.detailed[0].message != "Received POST request at /hook/a" {
		t.Fatalf("Unexpected detailed entries %+v", logger.detailed)
	}
	data := logger.detailed[0].data.(map[string]interface{})
	parsed, ok := data["body"].(map[string]interface{})
	if !ok || parsed["x"] != json.Number("1") {
		t.Errorf("Expected decoded JSON body, got %#v", data["body"])
	}
	if data["endpoint"] != "/hook/a" || data["method"] != "POST" {
		t.Errorf("Unexpected detailed data %v", data)
	}
}

func TestReceiver_TextBodyAndHeaders(t *testing.T) {
	logger := &MockLogger{}
	registry := NewRegistry(logger, []string{"/hook"})

	req := httptest.NewRequest(http.MethodPut, "http://receiver.test/hook", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Add("X-Trace", "a")
	req.Header.Add("X-Trace", "b")
	w := httptest.NewRecorder()

	registry.ServeHTTP(w, req)

	data := logger.detailed[0].data.(map[string]interface{})
	if data["body"] != "plain text" {
		t.Errorf("Expected raw text body, got %#v", data["body"])
	}
	headers := data["headers"].(map[string]string)
	if headers["X-Trace"] != "a, b" {
		t.Errorf("Expected joined header values, got %q", headers["X-Trace"])
	}
	if headers["Host"] != "receiver.test" {
		t.Errorf("Expected Host header, got %q", headers["Host"])
	}
}

func TestReceiver_MalformedJSONIsFailure(t *testing.T) {
	logger := &MockLogger{}
	registry := NewRegistry(logger, []string{"/hook"})

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	w := httptest.NewRecorder()

	registry.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 for malformed JSON, got %d", w.Code)
	}
	body := decodeResponse(t, w)
	msg, _ := body["error"].(string)
	if body["success"] != false || !strings.HasPrefix(msg, "Error processing request at /hook: ") {
		t.Errorf("Unexpected response %v", body)
	}
	if len(logger.dashboard) != 1 || !strings.HasPrefix(logger.dashboard[0], "ERROR: Error processing request at /hook: ") {
		t.Errorf("Unexpected dashboard %v", logger.dashboard)
	}
	if len(logger.detailed) != 1 || logger.detailed[0].level != types.LevelError {
		t.Errorf("Unexpected detailed entries %+v", logger.detailed)
	}
}

func TestReceiver_TextBodyWithJSONLookIsNotParsed(t *testing.T) {
	logger := &MockLogger{}
	registry := NewRegistry(logger, []string{"/hook"})

	req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()

	registry.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for text body, got %d", w.Code)
	}
	if data := logger.detailed[0].data.(map[string]interface{}); data["body"] != "{broken" {
		t.Errorf("Expected raw body, got %#v", data["body"])
	}
}

func TestNewRegistry_CleansPaths(t *testing.T) {
	registry := NewRegistry(&MockLogger{}, []string{"/hook//a", "/b/./c", "d/"})

	want := []string{"/hook/a", "/b/c", "/d"}
	if got := registry.Paths(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if _, ok := registry.Lookup("/hook/a"); !ok {
		t.Error("Expected cleaned path to be routable")
	}
}

func TestReceiver_AllMethods(t *testing.T) {
	methods := []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			logger := &MockLogger{}
			registry := NewRegistry(logger, []string{"/hook"})
			w := httptest.NewRecorder()

			registry.ServeHTTP(w, httptest.NewRequest(method, "/hook", nil))

			if w.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", w.Code)
			}
			if logger.dashboard[0] != "RECEIVED "+method+" at /hook" {
				t.Errorf("Unexpected dashboard line %q", logger.dashboard[0])
			}
		})
	}
}

func TestReceiver_BodyReadFailure(t *testing.T) {
	logger := &MockLogger{}
	registry := NewRegistry(logger, []string{"/hook"})

	req := httptest.NewRequest(http.MethodPost, "/hook", failingReader{})
	w := httptest.NewRecorder()

	registry.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	body := decodeResponse(t, w)
	want := "Error processing request at /hook: connection reset"
	if body["success"] != false || body["error"] != want {
		t.Errorf("Unexpected response %v", body)
	}
	if len(logger.dashboard) != 1 || logger.dashboard[0] != "ERROR: "+want {
		t.Errorf("Unexpected dashboard %v", logger.dashboard)
	}
	if len(logger.detailed) != 1 || logger.detailed[0].level != types.LevelError {
		t.Errorf("Unexpected detailed entries %+v", logger.detailed)
	}
	if stats := registry.GetStats(); stats.Errors != 1 || stats.Received != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestReceiver_PanicIsRecovered(t *testing.T) {
	logger := &MockLogger{}
	registry := NewRegistry(logger, []string{"/hook"})
	registry.now = func() time.Time { panic("clock failure") }

	w := httptest.NewRecorder()
	registry.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hook", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	last := logger.dashboard[len(logger.dashboard)-1]
	if last != "ERROR: Error processing request at /hook: clock failure" {
		t.Errorf("Unexpected dashboard line %q", last)
	}
}

func TestReceiver_UnknownPath(t *testing.T) {
	registry := NewRegistry(&MockLogger{}, []string{"/hook"})
	w := httptest.NewRecorder()

	registry.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/other", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

func TestReceiver_ClosuresCaptureOwnPath(t *testing.T) {
	logger := &MockLogger{}
	registry := NewRegistry(logger, []string{"/one", "/two"})

	for _, path := range []string{"/two", "/one"} {
		registry.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}

	if logger.dashboard[0] != "RECEIVED POST at /two" || logger.dashboard[1] != "RECEIVED POST at /one" {
		t.Errorf("Handlers captured the wrong path: %v", logger.dashboard)
	}
}
