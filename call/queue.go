package call

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

var errQueueFinished = errors.New("the input queue has already been finished")

// msgQueue is an unbounded FIFO of outgoing stream payloads. Producers never
// block on a slow consumer; the consumer drains q.out until the queue is
// finished and empty, or aborted.
type msgQueue struct {
	mu       sync.Mutex
	finished bool

	in    chan json.RawMessage
	out   chan json.RawMessage
	abort chan struct{}

	abortOnce sync.Once
}

func newMsgQueue() *msgQueue {
	q := &msgQueue{
		in:    make(chan json.RawMessage),
		out:   make(chan json.RawMessage),
		abort: make(chan struct{}),
	}
	go q.pump()
	return q
}

// pump shuttles payloads from in to out through an in-memory buffer so that
// push never waits for the consumer. out is closed once in is closed and the
// buffer is drained, or as soon as the queue is aborted.
func (q *msgQueue) pump() {
	defer close(q.out)
	var buf []json.RawMessage
	in := q.in
	for in != nil || len(buf) > 0 {
		var out chan json.RawMessage
		var next json.RawMessage
		if len(buf) > 0 {
			out = q.out
			next = buf[0]
		}
		select {
		case <-q.abort:
			return
		case m, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			buf = append(buf, m)
		case out <- next:
			buf = buf[1:]
		}
	}
}

// push enqueues one payload. It fails once the queue is finished or aborted.
func (q *msgQueue) push(m json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finished {
		return errQueueFinished
	}
	select {
	case q.in <- m:
		return nil
	case <-q.abort:
		return errQueueFinished
	}
}

// finish marks the producer side done so the consumer can drain the
// remainder and stop. Idempotent.
func (q *msgQueue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.finished {
		return
	}
	q.finished = true
	close(q.in)
}

// stop aborts the queue: buffered payloads are dropped and both producers
// and the consumer are released. Idempotent.
func (q *msgQueue) stop() {
	q.abortOnce.Do(func() { close(q.abort) })
}
