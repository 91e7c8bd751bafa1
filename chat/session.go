package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shazow/rateio"
)

const inboundBuffer = 16

// ErrSessionClosed is returned by Serve when the session was already served.
var ErrSessionClosed = errors.New("session closed")

// Conn is a connection that carries discrete lines of text.
type Conn interface {
	// ReadLine blocks for the next line. Any error ends the session.
	ReadLine() (string, error)
	// WriteLine writes one line. Any error ends the session.
	WriteLine(line string) error
	Close() error
	RemoteAddr() net.Addr
}

// State of a session.
type State int32

const (
	Running State = iota
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Session is one connected client. It runs three goroutines while served: a
// reader feeding the inbound channel, a writer draining the outbox, and the
// dispatch loop that acts on each inbound line.
type Session struct {
	id       string
	conn     Conn
	registry *Registry
	config   Config
	info     SystemInfo
	limiter  rateio.Limiter
	joined   time.Time

	// name is only written by the session's own dispatch loop.
	mu   sync.RWMutex
	name string

	state atomic.Int32

	inbound chan string
	outbox  *outbox

	quit       chan struct{}
	writerDone chan struct{}
	done       chan struct{}

	serveOnce sync.Once
	quitOnce  sync.Once
	closeOnce sync.Once
	termOnce  sync.Once
}

// NewSession wraps a connection. The session joins the registry once served.
func NewSession(conn Conn, registry *Registry, config Config) *Session {
	info := config.Info
	if info == nil {
		info = &ProcessInfo{}
	}
	var limiter rateio.Limiter
	if config.RateLimit > 0 && config.RatePeriod > 0 {
		limiter = rateio.NewSimpleLimiter(config.RateLimit, config.RatePeriod)
	}

	return &Session{
		id:         uuid.NewString(),
		conn:       conn,
		registry:   registry,
		config:     config,
		info:       info,
		limiter:    limiter,
		joined:     time.Now(),
		name:       DefaultName,
		inbound:    make(chan string, inboundBuffer),
		outbox:     newOutbox(config.OutboxLimit),
		quit:       make(chan struct{}),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Key implements set.Item.
func (s *Session) Key() string {
	return s.id
}

// ID returns the opaque connection handle.
func (s *Session) ID() string {
	return s.id
}

// Name returns the current display name.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) setName(name string) (old string) {
	s.mu.Lock()
	old, s.name = s.name, name
	s.mu.Unlock()
	return old
}

// State returns where the session is in its lifecycle.
func (s *Session) State() State {
	return State(s.state.Load())
}

// RemoteAddr returns the address of the client, if the transport knows it.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Joined returns when the session was created.
func (s *Session) Joined() time.Time {
	return s.joined
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close asks the session to stop as if it had been interrupted: it
// terminates without saying goodbye.
func (s *Session) Close() {
	s.quitOnce.Do(func() {
		close(s.quit)
	})
}

func (s *Session) String() string {
	if addr := s.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return s.id
}

// Send appends a line to the session's outbox without waiting for it to be
// written. A session that can't keep up with its outbox is dropped.
func (s *Session) Send(line string) error {
	err := s.outbox.Push(line)
	if errors.Is(err, ErrOutboxFull) {
		logger.Printf("[%s] Outbox full, closing: %s", s, s.Name())
		s.fail()
	}
	return err
}

// Serve registers the session and runs it until it stops, is cancelled, or
// its transport fails. It blocks until the session has terminated.
func (s *Session) Serve(ctx context.Context) error {
	err := ErrSessionClosed
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

func (s *Session) serve(ctx context.Context) error {
	if err := s.registry.Add(s); err != nil {
		s.closeConn()
		s.state.Store(int32(Terminated))
		close(s.done)
		return fmt.Errorf("joining registry: %w", err)
	}

	go s.readLoop()
	go s.writeLoop()

	s.dispatchLoop(ctx)
	s.terminate()
	return nil
}

func (s *Session) readLoop() {
	defer close(s.inbound)
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Printf("[%s] Read failed: %s", s, err)
			}
			return
		}

		select {
		case s.inbound <- line:
		case <-s.done:
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for {
		line, ok := s.outbox.Next()
		if !ok {
			return
		}
		if err := s.conn.WriteLine(line); err != nil {
			logger.Printf("[%s] Write failed, closing: %s", s, err)
			s.fail()
			return
		}
	}
}

func (s *Session) dispatchLoop(ctx context.Context) {
	for s.State() == Running {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case line, ok := <-s.inbound:
			if !ok {
				// Transport is gone.
				return
			}
			s.handleLine(line)
		}
	}
}

func (s *Session) handleLine(line string) {
	if s.limiter != nil {
		if err := s.limiter.Count(1); err != nil {
			s.Send("Message rejected: Rate limiting is in effect.")
			return
		}
	}
	if s.config.MaxLineLength > 0 && len(line) > s.config.MaxLineLength {
		s.Send("Message rejected: Input too long.")
		return
	}

	switch cmd := Parse(line).(type) {
	case Rename:
		s.rename(cmd.Name)
	case Whisper:
		s.whisper(cmd.Target, cmd.Body)
	case Listening:
	case Stop:
		s.Send("bye-bye")
		s.state.CompareAndSwap(int32(Running), int32(Stopping))
	case QueryTime:
		s.Send(s.info.Now().Format(time.UnixDate))
	case ListClients:
		s.Send(strings.Join(s.registry.Names(), ", "))
	case QueryMemory:
		s.queryMemory()
	case UnknownCommand:
		s.Send(fmt.Sprintf("No commands found for %s", cmd.Verb()))
	case ChatText:
		if cmd.Blank() {
			return
		}
		s.broadcast(fmt.Sprintf("%s: %s", s.Name(), cmd.Body))
	}
}

func (s *Session) rename(name string) {
	old := s.setName(name)
	s.Send(fmt.Sprintf("Name changed into %s", name))
	s.broadcast(fmt.Sprintf("%s renamed into %s", old, name))
	logger.Printf("[%s] Renamed: %s -> %s", s, old, name)
}

func (s *Session) whisper(target, body string) {
	if body == "" {
		s.Send("Error sending empty message")
		return
	}

	targets := s.registry.Named(target)
	if len(targets) == 0 {
		s.Send(fmt.Sprintf("Cannot find user with name %s", target))
		return
	}

	line := fmt.Sprintf("Message from %s: %s", s.Name(), body)
	for _, t := range targets {
		t.Send(line)
	}
}

func (s *Session) queryMemory() {
	used, err := s.info.MemoryUsage()
	if err != nil {
		logger.Printf("[%s] Memory query failed: %s", s, err)
		s.Send("Memory usage unavailable")
		return
	}
	logger.Printf("[%s] Memory in use: %s", s, humanize.Bytes(used))
	s.Send(strconv.FormatUint(used, 10))
}

// broadcast sends a line to every other registered session.
func (s *Session) broadcast(line string) {
	for _, other := range s.registry.Excluding(s) {
		other.Send(line)
	}
}

// fail tears down the transport after an I/O problem. The reader notices the
// closed connection and the dispatch loop then terminates the session.
func (s *Session) fail() {
	s.outbox.Close()
	s.closeConn()
}

func (s *Session) closeConn() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			logger.Printf("[%s] Close failed: %s", s, err)
		}
	})
}

// terminate leaves the registry, tells everyone else, flushes what is left
// in the outbox and closes the transport. Only the first call has any effect.
func (s *Session) terminate() {
	s.termOnce.Do(func() {
		s.state.CompareAndSwap(int32(Running), int32(Stopping))

		name := s.Name()
		if s.registry.Remove(s) {
			s.broadcast(fmt.Sprintf("%s has left", name))
		}

		s.outbox.Close()
		drain := s.config.DrainTimeout
		if drain <= 0 {
			drain = DefaultConfig().DrainTimeout
		}
		timer := time.NewTimer(drain)
		select {
		case <-s.writerDone:
		case <-timer.C:
			logger.Printf("[%s] Gave up flushing %d lines", s, s.outbox.Len())
		}
		timer.Stop()

		s.closeConn()
		s.state.Store(int32(Terminated))
		close(s.done)
	})
}
