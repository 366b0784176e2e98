package types

// SendRequest is an operator's outbound call. A nil Headers map means the
// settings' default headers apply; an empty non-nil map sends none.
type SendRequest struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method"`
	Payload  interface{}       `json:"payload"`
	Headers  map[string]string `json:"headers"`
}

// SendResult is what the dispatcher reports back for a completed call
type SendResult struct {
	StatusCode int    `json:"status_code"`
	Response   string `json:"response"`
}
