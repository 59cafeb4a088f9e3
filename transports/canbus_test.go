package transports

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notnil/canbus"
)

// chanBus is an in-memory canbus.Bus.
type chanBus struct {
	mu     sync.Mutex
	sent   []canbus.Frame
	rx     chan canbus.Frame
	done   chan struct{}
	once   sync.Once
	sendFn func(canbus.Frame) error
}

func newChanBus() *chanBus {
	return &chanBus{rx: make(chan canbus.Frame, 16), done: make(chan struct{})}
}

func (b *chanBus) Send(f canbus.Frame) error {
	if b.sendFn != nil {
		if err := b.sendFn(f); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, f)
	return nil
}

func (b *chanBus) Receive() (canbus.Frame, error) {
	select {
	case f := <-b.rx:
		return f, nil
	case <-b.done:
		return canbus.Frame{}, canbus.ErrClosed
	}
}

func (b *chanBus) Close() error {
	b.once.Do(func() { close(b.done) })
	return nil
}

func TestBusBinding(t *testing.T) {
	bus := newChanBus()
	b := NewBusBinding(bus, 0)
	defer b.Close()

	n, err := b.Send(canbus.Frame{ID: 1, Extended: true, Len: 8})
	if err != nil || n != 1 {
		t.Fatalf("Send: got %d, %v", n, err)
	}

	bus.rx <- canbus.Frame{ID: 2, Extended: true, Len: 8}
	bus.rx <- canbus.Frame{ID: 3, Extended: true, Len: 8}

	deadline := time.Now().Add(time.Second)
	for {
		n, err := b.Pending()
		if err != nil {
			t.Fatalf("Pending failed: %v", err)
		}
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pending: got %d, want 2", n)
		}
		time.Sleep(time.Millisecond)
	}

	frames, err := b.Receive(10, 0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if len(frames) != 2 || frames[0].ID != 2 || frames[1].ID != 3 {
		t.Errorf("Receive: got %v", frames)
	}
}

func TestBusBindingSendError(t *testing.T) {
	bus := newChanBus()
	busErr := errors.New("tx buffer full")
	bus.sendFn = func(canbus.Frame) error { return busErr }
	b := NewBusBinding(bus, 0)
	defer b.Close()

	n, err := b.Send(canbus.Frame{ID: 1})
	if !errors.Is(err, busErr) || n != 0 {
		t.Errorf("Send: got %d, %v", n, err)
	}
}

func TestBusBindingClose(t *testing.T) {
	bus := newChanBus()
	b := NewBusBinding(bus, 0)

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	if _, err := b.Pending(); !errors.Is(err, canbus.ErrClosed) {
		t.Errorf("Pending after close: expected ErrClosed, got %v", err)
	}
}
