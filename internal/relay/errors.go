package relay

import "errors"

var (
	// ErrStore matches every *StoreError.
	ErrStore = errors.New("relay: subscription store failure")
	// ErrQueueFull is returned by Enqueue when the job queue has no room.
	ErrQueueFull = errors.New("relay: broadcast queue full")
	// ErrStopped is returned by Enqueue when the workers are not running and
	// recorded on queued jobs that shutdown could not run.
	ErrStopped = errors.New("relay: not running")
)

// StoreError wraps a store failure. A failed list aborts the broadcast; a
// failed get or delete only fails its own target.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	s := "relay: store " + e.Op
	if e.Key != "" {
		s += " " + e.Key
	}
	return s + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStore }
