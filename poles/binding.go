package poles

import (
	"time"

	"github.com/notnil/canbus"
)

// Binding is the interface to the CAN interface hardware driver.
// The controller owns a binding for its whole lifetime.
type Binding interface {
	// Send queues a frame for transmission and returns the number of frames
	// the bus layer accepted.
	Send(frame canbus.Frame) (int, error)

	// Pending returns the number of received frames waiting to be read.
	Pending() (int, error)

	// Receive returns up to max received frames, waiting at most wait for the
	// first one to arrive.
	Receive(max int, wait time.Duration) ([]canbus.Frame, error)

	// Close releases the hardware handle.
	Close() error
}
