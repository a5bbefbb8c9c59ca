package rpc

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Transport.Call and friends.
var (
	// ErrNotConnected is returned when a call is attempted while the
	// socket is not open. Calls fail fast instead of queuing.
	ErrNotConnected = errors.New("rpc: not connected")

	// ErrTimeout is returned when no matching response arrives within
	// the per-call timeout.
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrClosed rejects every call still pending when the connection is
	// torn down.
	ErrClosed = errors.New("rpc: connection closed")

	// ErrReconnectExhausted marks the terminal state after the reconnect
	// attempt cap is reached. Only an explicit Dial recovers from it.
	ErrReconnectExhausted = errors.New("rpc: reconnect attempts exhausted")
)

// RemoteError carries the code and message of a JSON-RPC error response.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc: server error %d: %s", e.Code, e.Message)
}
