package transfer

import (
	"errors"
	"fmt"

	"github.com/chaz8081/skellyctl/internal/ble/waiter"
)

var (
	// ErrRejected means the device set the failure flag on an ack.
	ErrRejected = errors.New("transfer: rejected by device")
	// ErrTimeout means an expected ack never arrived.
	ErrTimeout = waiter.ErrTimeout
	// ErrCancelled means the caller cancelled the upload.
	ErrCancelled = errors.New("transfer: cancelled")
	// ErrDisconnected means the link dropped mid-transfer.
	ErrDisconnected = errors.New("transfer: disconnected")
	// ErrBusy means another upload is already running on the engine.
	ErrBusy = errors.New("transfer: upload already in progress")
)

// Error records where an upload failed. Chunk is -1 when the failure is
// not tied to a chunk.
type Error struct {
	Phase Phase
	Chunk int
	Err   error
}

func (e *Error) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("transfer: %s at chunk %d: %v", e.Phase, e.Chunk, e.Err)
	}
	return fmt.Sprintf("transfer: %s: %v", e.Phase, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
