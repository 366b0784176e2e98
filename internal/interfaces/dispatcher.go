package interfaces

import (
	"context"
	"io"

	"apiremote/internal/types"
)

// Dispatcher performs outbound calls on operator request
type Dispatcher interface {
	// Send performs a single synchronous call
	Send(ctx context.Context, req types.SendRequest) (*types.SendResult, error)

	// SendJSON decodes an API request body and sends it
	SendJSON(ctx context.Context, body io.Reader) (*types.SendResult, error)
}
