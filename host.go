package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/relaychat/relay/chat"
	"github.com/relaychat/relay/transport"
)

// ErrHostClosed is returned by Connect once Shutdown has been called.
var ErrHostClosed = errors.New("host closed")

// Listener yields connections until it is closed.
type Listener interface {
	ServeConns() <-chan transport.Conn
	Addr() net.Addr
	Close() error
}

// Host is the bridge between transport and chat modules
type Host struct {
	registry *chat.Registry
	config   chat.Config

	mu       sync.Mutex
	sessions map[*chat.Session]struct{}
	count    int
	closed   bool
	wg       sync.WaitGroup
}

// NewHost creates a Host with an empty room.
func NewHost(config chat.Config) *Host {
	return &Host{
		registry: chat.NewRegistry(),
		config:   config,
		sessions: map[*chat.Session]struct{}{},
	}
}

// Len returns the number of connected sessions.
func (h *Host) Len() int {
	return h.registry.Len()
}

// Serve hands every connection from the listener to its own session. It
// returns once ctx is done, closing the listener, or once the listener stops
// yielding connections.
func (h *Host) Serve(ctx context.Context, l Listener) error {
	logger.Infof("Listening on %s", l.Addr())
	conns := l.ServeConns()
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case conn, ok := <-conns:
			if !ok {
				return nil
			}
			go h.Connect(ctx, conn)
		}
	}
}

// Connect runs a session for conn until it terminates.
func (h *Host) Connect(ctx context.Context, conn transport.Conn) error {
	session := chat.NewSession(conn, h.registry, h.config)
	count, ok := h.track(session)
	if !ok {
		conn.Close()
		return ErrHostClosed
	}
	defer h.untrack(session)

	logger.Infof("[%s] Connection #%d: %s", session, count, session.ID())
	err := session.Serve(ctx)
	if err != nil {
		logger.Errorf("[%s] Failed to join: %s", session, err)
		return err
	}
	logger.Debugf("[%s] Left: %s, joined %s", session, session.Name(), humanize.Time(session.Joined()))
	return nil
}

func (h *Host) track(session *chat.Session) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, false
	}
	h.count++
	h.sessions[session] = struct{}{}
	h.wg.Add(1)
	return h.count, true
}

func (h *Host) untrack(session *chat.Session) {
	h.mu.Lock()
	delete(h.sessions, session)
	h.mu.Unlock()
	h.wg.Done()
}

// Shutdown refuses new connections, interrupts every session and waits for
// them to terminate. It returns context.DeadlineExceeded if they take longer
// than timeout.
func (h *Host) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*chat.Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	logger.Infof("Shutting down %d sessions", len(sessions))
	for _, s := range sessions {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		logger.Warningf("Gave up waiting for sessions after %s", timeout)
		return context.DeadlineExceeded
	}
}
