package service

import (
	"context"
	"errors"
)

// ErrGone is returned by a Deliverer when the target connection no
// longer exists. Callers treat it as a skip, not a fault.
var ErrGone = errors.New("connection gone")

// Deliverer pushes payloads to individual live connections. The websocket
// transport implements it; tests substitute recording fakes.
type Deliverer interface {
	// PostToConnection delivers payload to one connection. ErrGone when
	// the connection has already been closed or was never registered.
	PostToConnection(ctx context.Context, connectionID string, payload []byte) error

	// ForceClose tears a connection down. Closing an already-closed
	// connection is a no-op.
	ForceClose(ctx context.Context, connectionID string) error
}
