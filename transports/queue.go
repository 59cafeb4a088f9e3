package transports

import (
	"sync"
	"time"

	"github.com/notnil/canbus"
)

// DefaultQueueSize is the receive queue capacity of the hardware bindings.
const DefaultQueueSize = 1024

// frameQueue buffers received frames between a reader goroutine and the
// controller's poll loop. When full, the oldest frame is dropped.
type frameQueue struct {
	mu      sync.Mutex
	frames  []canbus.Frame
	limit   int
	dropped int
	err     error // terminal reader error
	notify  chan struct{}
}

func newFrameQueue(limit int) *frameQueue {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &frameQueue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

func (q *frameQueue) push(f canbus.Frame) {
	q.mu.Lock()
	if len(q.frames) >= q.limit {
		q.frames = q.frames[1:]
		q.dropped++
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// fail records the error that stopped the reader.
func (q *frameQueue) fail(err error) {
	q.mu.Lock()
	q.err = err
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *frameQueue) len() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 && q.err != nil {
		return 0, q.err
	}
	return len(q.frames), nil
}

// pop returns up to max frames, waiting at most wait for the first one.
func (q *frameQueue) pop(max int, wait time.Duration) ([]canbus.Frame, error) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			n := min(max, len(q.frames))
			out := make([]canbus.Frame, n)
			copy(out, q.frames)
			q.frames = q.frames[n:]
			q.mu.Unlock()
			return out, nil
		}
		err := q.err
		q.mu.Unlock()

		if err != nil {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || max <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// droppedCount returns how many frames were discarded because the queue was full.
func (q *frameQueue) droppedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
