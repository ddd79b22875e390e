package webpush

import (
	"errors"
	"fmt"
	"net/http"
)

// Outcome is the relay's reading of one delivery attempt.
type Outcome int

const (
	// Delivered: the push service accepted the message (2xx).
	Delivered Outcome = iota
	// Gone: the subscription no longer exists (404, 410) and should be pruned.
	Gone
	// Transient: anything else; the subscription is kept.
	Transient
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Gone:
		return "gone"
	default:
		return "transient"
	}
}

// Classify maps a push service status code to an Outcome.
func Classify(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return Delivered
	case status == http.StatusNotFound || status == http.StatusGone:
		return Gone
	default:
		return Transient
	}
}

var (
	ErrTransient = errors.New("webpush: transient delivery failure")
	ErrGone      = errors.New("webpush: subscription gone")
)

// TransientError is a failure that may succeed on a later broadcast.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webpush: push service answered %d", e.StatusCode)
	}
	if e.Err == nil {
		return ErrTransient.Error()
	}
	return "webpush: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// PermanentError reports a subscription the push service no longer knows.
type PermanentError struct {
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("webpush: subscription gone (%d)", e.StatusCode)
}

func (e *PermanentError) Is(target error) bool { return target == ErrGone }

// ResponseError converts a non-2xx response into its typed error, or nil.
func ResponseError(resp *Response) error {
	if resp == nil {
		return &TransientError{Err: errors.New("no response")}
	}
	switch Classify(resp.StatusCode) {
	case Delivered:
		return nil
	case Gone:
		return &PermanentError{StatusCode: resp.StatusCode}
	default:
		return &TransientError{StatusCode: resp.StatusCode}
	}
}
