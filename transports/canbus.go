package transports

import (
	"sync"
	"time"

	"github.com/notnil/canbus"
)

// BusBinding adapts any canbus.Bus (SocketCAN, loopback, vendor drivers) to
// the polled interface the pole controller uses. A background goroutine
// drains Receive into a bounded queue.
type BusBinding struct {
	bus canbus.Bus
	rx  *frameQueue

	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewBusBinding starts reading from bus. queueSize <= 0 selects DefaultQueueSize.
func NewBusBinding(bus canbus.Bus, queueSize int) *BusBinding {
	b := &BusBinding{
		bus: bus,
		rx:  newFrameQueue(queueSize),
	}
	b.wg.Add(1)
	go b.readLoop()
	return b
}

func (b *BusBinding) Send(f canbus.Frame) (int, error) {
	if err := b.bus.Send(f); err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *BusBinding) Pending() (int, error) {
	return b.rx.len()
}

func (b *BusBinding) Receive(max int, wait time.Duration) ([]canbus.Frame, error) {
	return b.rx.pop(max, wait)
}

// Close closes the underlying bus and waits for the reader to exit.
func (b *BusBinding) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.bus.Close()
		b.wg.Wait()
	})
	return b.closeErr
}

func (b *BusBinding) readLoop() {
	defer b.wg.Done()
	for {
		f, err := b.bus.Receive()
		if err != nil {
			b.rx.fail(err)
			return
		}
		b.rx.push(f)
	}
}
