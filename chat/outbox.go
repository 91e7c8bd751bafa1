package chat

import (
	"errors"
	"sync"
)

// ErrOutboxFull is returned when a session has more pending outbound lines
// than its limit allows.
var ErrOutboxFull = errors.New("outbox full")

// ErrOutboxClosed is returned when appending to a session that is shutting
// down.
var ErrOutboxClosed = errors.New("outbox closed")

// outbox is a FIFO of formatted lines waiting to be written to one session's
// transport. Any goroutine may Push; only the session's writer calls Next.
type outbox struct {
	mu     sync.Mutex
	lines  []string
	limit  int
	closed bool
	ready  chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends a line. It never waits on the consumer.
func (o *outbox) Push(line string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	if o.limit > 0 && len(o.lines) >= o.limit {
		o.mu.Unlock()
		return ErrOutboxFull
	}
	o.lines = append(o.lines, line)
	o.mu.Unlock()

	o.wake()
	return nil
}

// Next blocks until a line is available. It returns false once the outbox
// is closed and every line pushed before Close has been handed out.
func (o *outbox) Next() (string, bool) {
	for {
		o.mu.Lock()
		if len(o.lines) > 0 {
			line := o.lines[0]
			o.lines[0] = ""
			o.lines = o.lines[1:]
			o.mu.Unlock()
			return line, true
		}
		closed := o.closed
		o.mu.Unlock()

		if closed {
			return "", false
		}
		<-o.ready
	}
}

// Close stops accepting lines. Lines already pushed can still be drained.
func (o *outbox) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wake()
}

// Len returns the number of pending lines.
func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lines)
}

func (o *outbox) wake() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
