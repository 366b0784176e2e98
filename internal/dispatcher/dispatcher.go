package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"apiremote/internal/interfaces"
	"apiremote/internal/metrics"
	"apiremote/internal/types"
)

const (
	// ResponseExcerptLimit is the number of response characters returned to the caller
	ResponseExcerptLimit = 1000
	// LogExcerptLimit is the number of response characters kept in the detailed log
	LogExcerptLimit = 500
	// DefaultWebSocketReplyTimeout bounds the wait for a WebSocket reply when no dispatch timeout is set
	DefaultWebSocketReplyTimeout = 10 * time.Second
	// WebSocketBufferSize is the buffer size for WebSocket messages
	WebSocketBufferSize = 4096
)

var (
	// ErrUnsupportedMethod is returned for methods other than GET, POST, PUT, PATCH and DELETE
	ErrUnsupportedMethod = errors.New("unsupported method")
	// ErrMissingEndpoint is returned when a request has no endpoint
	ErrMissingEndpoint = errors.New("endpoint is required")
)

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// TransportError reports an outbound call that produced no response
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return "Error sending request: " + e.Cause.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Stats represents statistics about outbound dispatches
type Stats struct {
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	LastStatus int   `json:"last_status,omitempty"`
}

// Dispatcher performs operator-requested HTTP and WebSocket calls and
// records each one in the dual logger
type Dispatcher struct {
	client         *http.Client
	wsDialer       *websocket.Dialer
	logger         interfaces.EventLogger
	defaultHeaders map[string]string
	timeout        time.Duration

	metrics *metrics.Metrics
	latency *metrics.LatencyTracker

	stats      Stats
	statsMutex sync.RWMutex
}

// New creates a dispatcher. A zero timeout leaves calls bounded only by the
// caller's context.
func New(logger interfaces.EventLogger, defaultHeaders map[string]string, timeout time.Duration) *Dispatcher {
	m := metrics.Get()

	headers := make(map[string]string, len(defaultHeaders))
	for k, v := range defaultHeaders {
		headers[k] = v
	}

	return &Dispatcher{
		client: &http.Client{},
		wsDialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultWebSocketReplyTimeout,
			ReadBufferSize:   WebSocketBufferSize,
			WriteBufferSize:  WebSocketBufferSize,
		},
		logger:         logger,
		defaultHeaders: headers,
		timeout:        timeout,
		metrics:        m,
		latency:        metrics.NewLatencyTracker(m, 1000),
	}
}

// Send performs one outbound call and logs its outcome exactly once to each log
func (d *Dispatcher) Send(ctx context.Context, req types.SendRequest) (*types.SendResult, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	payload := req.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	headers := req.Headers
	if headers == nil {
		headers = d.defaultHeaders
	}

	start := time.Now()
	status, body, err := d.do(ctx, req.Endpoint, method, payload, headers)
	duration := time.Since(start)

	metricMethod := method
	if !supportedMethods[method] {
		metricMethod = "OTHER"
	}
	d.metrics.RecordDispatch(metricMethod, duration, err)
	d.latency.Record(duration)

	if err != nil {
		return nil, d.fail(err)
	}

	d.updateStats(func(stats *Stats) {
		stats.Sent++
		stats.LastStatus = status
	})

	d.logger.LogDashboard(fmt.Sprintf("SENT %s to %s - Status: %d", method, req.Endpoint, status))
	d.logger.LogDetailed(types.LevelInfo, fmt.Sprintf("Sent %s request to %s", method, req.Endpoint), map[string]interface{}{
		"endpoint":        req.Endpoint,
		"method":          method,
		"payload":         payload,
		"response_status": status,
		"response_body":   truncate(body, LogExcerptLimit),
	})

	return &types.SendResult{
		StatusCode: status,
		Response:   truncate(body, ResponseExcerptLimit),
	}, nil
}

// SendJSON decodes an /api/send body and sends it. Only an absent "headers"
// key selects the default headers; an explicit null sends none. A body that
// cannot be decoded is logged and returned like any other failed call.
func (d *Dispatcher) SendJSON(ctx context.Context, body io.Reader) (*types.SendResult, error) {
	var envelope struct {
		types.SendRequest
		Headers json.RawMessage `json:"headers"`
	}

	decoder := json.NewDecoder(body)
	decoder.UseNumber()
	if err := decoder.Decode(&envelope); err != nil {
		return nil, d.fail(fmt.Errorf("invalid request body: %w", err))
	}

	req := envelope.SendRequest
	if envelope.Headers != nil {
		req.Headers = map[string]string{}
		if err := json.Unmarshal(envelope.Headers, &req.Headers); err != nil {
			return nil, d.fail(fmt.Errorf("invalid headers: %w", err))
		}
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
	}

	return d.Send(ctx, req)
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() Stats {
	d.statsMutex.RLock()
	defer d.statsMutex.RUnlock()
	return d.stats
}

// LatencyStats returns the recent latency window summary
func (d *Dispatcher) LatencyStats() map[string]interface{} {
	return d.latency.GetCurrentStats()
}

func (d *Dispatcher) do(ctx context.Context, endpoint, method string, payload interface{}, headers map[string]string) (int, string, error) {
	if strings.TrimSpace(endpoint) == "" {
		return 0, "", ErrMissingEndpoint
	}
	if !supportedMethods[method] {
		return 0, "", fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}

	target, err := url.Parse(endpoint)
	if err != nil {
		return 0, "", err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	switch target.Scheme {
	case "ws", "wss":
		return d.doWebSocket(ctx, target, payload, headers)
	}

	httpReq, err := buildRequest(ctx, target, method, payload)
	if err != nil {
		return 0, "", err
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, string(data), nil
}

// doWebSocket writes the payload as one text message and waits for one reply
func (d *Dispatcher) doWebSocket(ctx context.Context, target *url.URL, payload interface{}, headers map[string]string) (int, string, error) {
	header := http.Header{}
	for k, v := range headers {
		header.Set(k, v)
	}

	conn, resp, err := d.wsDialer.DialContext(ctx, target.String(), header)
	if err != nil {
		return 0, "", err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultWebSocketReplyTimeout)
	}

	message, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("failed to encode payload: %w", err)
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		return 0, "", fmt.Errorf("failed to write message: %w", err)
	}

	conn.SetReadDeadline(deadline)
	_, reply, err := conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		return 0, "", fmt.Errorf("failed to read reply: %w", err)
	}

	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	return resp.StatusCode, string(reply), nil
}

// fail logs a failed call and returns it as a *TransportError
func (d *Dispatcher) fail(err error) error {
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		transportErr = &TransportError{Cause: err}
	}

	d.updateStats(func(stats *Stats) {
		stats.Failed++
	})

	message := transportErr.Error()
	d.logger.LogDashboard("ERROR: " + message)
	d.logger.LogDetailed(types.LevelError, message, nil)

	return transportErr
}

// updateStats safely updates the dispatcher statistics
func (d *Dispatcher) updateStats(updateFunc func(*Stats)) {
	d.statsMutex.Lock()
	defer d.statsMutex.Unlock()
	updateFunc(&d.stats)
}

// buildRequest encodes the payload as query parameters for GET and as a JSON
// body for every other method
func buildRequest(ctx context.Context, target *url.URL, method string, payload interface{}) (*http.Request, error) {
	if method == http.MethodGet {
		params, err := queryParams(payload)
		if err != nil {
			return nil, err
		}
		u := *target
		query := u.Query()
		for k, values := range params {
			for _, v := range values {
				query.Add(k, v)
			}
		}
		u.RawQuery = query.Encode()
		return http.NewRequestWithContext(ctx, method, u.String(), nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// queryParams flattens a JSON object payload: arrays become repeated keys
// and null values are skipped
func queryParams(payload interface{}) (url.Values, error) {
	object, ok := payload.(map[string]interface{})
	if !ok {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&object); err != nil || object == nil {
			return nil, fmt.Errorf("GET payload must be a JSON object")
		}
	}

	values := url.Values{}
	for key, value := range object {
		switch v := value.(type) {
		case nil:
		case []interface{}:
			for _, item := range v {
				if item != nil {
					values.Add(key, scalarText(item))
				}
			}
		default:
			values.Add(key, scalarText(v))
		}
	}
	return values, nil
}

// scalarText renders a value as its JSON text, without quotes for strings
func scalarText(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

// truncate keeps the first limit characters of s
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
