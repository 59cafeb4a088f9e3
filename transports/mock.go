package transports

import (
	"sync"
	"time"

	"github.com/notnil/canbus"
)

// MockBinding implements a pole bus binding for testing. Frames written with
// Send are recorded in Sent. Replies are queued with Inject, InjectAfter or
// AddResponse and become visible to Pending and Receive once their delay has
// elapsed.
type MockBinding struct {
	mu sync.Mutex

	Sent    []canbus.Frame
	SendErr error
	// Reject makes Send report zero accepted frames without an error.
	Reject bool
	Closed bool

	// ResponseFunc allows custom reply behavior for complex tests. It is
	// called for every sent frame and its results are queued immediately.
	ResponseFunc func(f canbus.Frame) []canbus.Frame

	responses map[uint32][]scripted
	queue     []scripted
}

type scripted struct {
	frame   canbus.Frame
	delay   time.Duration
	readyAt time.Time
}

// AddResponse queues resp to arrive delay after a frame with arbitration
// id trigger is sent. Each registered response fires once.
func (m *MockBinding) AddResponse(trigger uint32, resp canbus.Frame, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.responses == nil {
		m.responses = make(map[uint32][]scripted)
	}
	m.responses[trigger] = append(m.responses[trigger], scripted{frame: resp, delay: delay})
}

// Inject queues a frame that is available immediately.
func (m *MockBinding) Inject(f canbus.Frame) {
	m.InjectAfter(f, 0)
}

// InjectAfter queues a frame that becomes available after delay.
func (m *MockBinding) InjectAfter(f canbus.Frame, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scripted{frame: f, readyAt: time.Now().Add(delay)})
}

func (m *MockBinding) Send(f canbus.Frame) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, canbus.ErrClosed
	}
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	if m.Reject {
		return 0, nil
	}
	m.Sent = append(m.Sent, f)

	now := time.Now()
	if pending := m.responses[f.ID]; len(pending) > 0 {
		for _, r := range pending {
			m.queue = append(m.queue, scripted{frame: r.frame, readyAt: now.Add(r.delay)})
		}
		delete(m.responses, f.ID)
	}
	if m.ResponseFunc != nil {
		for _, r := range m.ResponseFunc(f) {
			m.queue = append(m.queue, scripted{frame: r, readyAt: now})
		}
	}
	return 1, nil
}

func (m *MockBinding) Pending() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Closed {
		return 0, canbus.ErrClosed
	}
	return m.readyLocked(time.Now()), nil
}

func (m *MockBinding) Receive(max int, wait time.Duration) ([]canbus.Frame, error) {
	deadline := time.Now().Add(wait)
	for {
		m.mu.Lock()
		if m.Closed {
			m.mu.Unlock()
			return nil, canbus.ErrClosed
		}

		var out []canbus.Frame
		var rest []scripted
		now := time.Now()
		for _, s := range m.queue {
			if len(out) < max && !s.readyAt.After(now) {
				out = append(out, s.frame)
			} else {
				rest = append(rest, s)
			}
		}
		m.queue = rest
		m.mu.Unlock()

		if len(out) > 0 || !time.Now().Before(deadline) {
			return out, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (m *MockBinding) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// SentFrames returns a copy of the frames sent so far.
func (m *MockBinding) SentFrames() []canbus.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]canbus.Frame(nil), m.Sent...)
}

func (m *MockBinding) readyLocked(now time.Time) int {
	n := 0
	for _, s := range m.queue {
		if !s.readyAt.After(now) {
			n++
		}
	}
	return n
}
