package poles

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure modes.
var (
	ErrParse              = errors.New("malformed posture text")
	ErrInvalidDataRange   = errors.New("command data out of 40-bit range")
	ErrInvalidPoleID      = errors.New("invalid pole ID")
	ErrMalformedFrame     = errors.New("malformed response frame")
	ErrTransmit           = errors.New("bus rejected frame")
	ErrUnknownPole        = errors.New("unknown pole")
	ErrUnknownStatusField = errors.New("unknown status field")
	ErrResponseTimeout    = errors.New("response timeout")
	ErrMissingKey         = errors.New("missing pole in model")
	ErrLengthOutOfRange   = errors.New("pole length out of range")
	ErrControllerClosed   = errors.New("controller is closed")
)

// TransmitError reports a command the bus layer did not accept.
type TransmitError struct {
	Pole  int          // Pole ID placed on the wire
	Index CommandIndex // Command index of the rejected frame
	Err   error        // Underlying binding error, if any
}

func (e *TransmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to transmit command %d to pole %d: %v", e.Index, e.Pole, e.Err)
	}
	return fmt.Sprintf("failed to transmit command %d to pole %d", e.Index, e.Pole)
}

func (e *TransmitError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrTransmit, e.Err}
	}
	return []error{ErrTransmit}
}

// PoleError represents an error from a specific pole inside a batch operation.
type PoleError struct {
	Pole int    // Logical pole ID
	Op   string // Operation that failed
	Err  error  // Underlying error
}

func (e *PoleError) Error() string {
	return fmt.Sprintf("pole %d %s failed: %v", e.Pole, e.Op, e.Err)
}

func (e *PoleError) Unwrap() error {
	return e.Err
}

// ResponseTimeoutError is returned when fewer responses than expected
// arrived before the deadline.
type ResponseTimeoutError struct {
	Expected    int
	Received    int
	Outstanding []int // Logical pole IDs that never answered
}

func (e *ResponseTimeoutError) Error() string {
	ids := make([]string, len(e.Outstanding))
	for i, id := range e.Outstanding {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("response timeout: received %d of %d, outstanding poles [%s]",
		e.Received, e.Expected, strings.Join(ids, " "))
}

func (e *ResponseTimeoutError) Unwrap() error {
	return ErrResponseTimeout
}

// IsTimeout returns true if the error is a response timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrResponseTimeout)
}

// GetPoleError extracts a PoleError from an error chain, if present.
func GetPoleError(err error) (*PoleError, bool) {
	var poleErr *PoleError
	if errors.As(err, &poleErr) {
		return poleErr, true
	}
	return nil, false
}

// Outstanding extracts the unanswered pole IDs from a timeout error chain.
func Outstanding(err error) ([]int, bool) {
	var timeoutErr *ResponseTimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Outstanding, true
	}
	return nil, false
}
