package chat

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeConn is an in-memory Conn. Lines typed by the test go into in, lines
// written by the session come out of out.
type fakeConn struct {
	addr   fakeAddr
	in     chan string
	out    chan string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(addr string, outBuffer int) *fakeConn {
	return &fakeConn{
		addr:   fakeAddr(addr),
		in:     make(chan string),
		out:    make(chan string, outBuffer),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadLine() (string, error) {
	select {
	case line := <-c.in:
		return line, nil
	case <-c.closed:
		return "", io.EOF
	}
}

func (c *fakeConn) WriteLine(line string) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- line:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return c.addr
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fixedInfo struct {
	now time.Time
	mem uint64
}

func (i fixedInfo) Now() time.Time               { return i.now }
func (i fixedInfo) MemoryUsage() (uint64, error) { return i.mem, nil }

// client drives one session from the far side of its connection.
type client struct {
	t       *testing.T
	conn    *fakeConn
	session *Session
	served  chan error
}

func (c *client) say(line string) {
	c.t.Helper()
	select {
	case c.conn.in <- line:
	case <-time.After(waitFor):
		c.t.Fatalf("%s: timed out sending %q", c.conn.addr, line)
	}
}

func (c *client) expect(expected string) {
	c.t.Helper()
	select {
	case actual := <-c.conn.out:
		require.Equal(c.t, expected, actual, "received by %s", c.conn.addr)
	case <-time.After(waitFor):
		c.t.Fatalf("%s: timed out waiting for %q", c.conn.addr, expected)
	}
}

func (c *client) next() string {
	c.t.Helper()
	select {
	case line := <-c.conn.out:
		return line
	case <-time.After(waitFor):
		c.t.Fatalf("%s: timed out waiting for a line", c.conn.addr)
	}
	return ""
}

func (c *client) expectNothing() {
	c.t.Helper()
	select {
	case line := <-c.conn.out:
		c.t.Fatalf("%s: unexpected line %q", c.conn.addr, line)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *client) waitDone() {
	c.t.Helper()
	select {
	case <-c.session.Done():
	case <-time.After(waitFor):
		c.t.Fatalf("%s: session did not terminate", c.conn.addr)
	}
}

type harness struct {
	t        *testing.T
	registry *Registry
	config   Config
	ctx      context.Context
	clients  []*client
}

func newHarness(t *testing.T) *harness {
	config := DefaultConfig()
	config.Info = fixedInfo{
		now: time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC),
		mem: 4096,
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{
		t:        t,
		registry: NewRegistry(),
		config:   config,
		ctx:      ctx,
	}
	t.Cleanup(func() {
		cancel()
		for _, c := range h.clients {
			c.conn.Close()
		}
	})
	return h
}

func (h *harness) connect(addr string) *client {
	return h.connectConn(newFakeConn(addr, 100))
}

func (h *harness) connectConn(conn *fakeConn) *client {
	return h.connectContext(h.ctx, conn)
}

func (h *harness) connectContext(ctx context.Context, conn *fakeConn) *client {
	h.t.Helper()
	c := &client{
		t:       h.t,
		conn:    conn,
		session: NewSession(conn, h.registry, h.config),
		served:  make(chan error, 1),
	}
	want := h.registry.Len() + 1
	go func() {
		c.served <- c.session.Serve(ctx)
	}()
	require.Eventually(h.t, func() bool {
		_, ok := h.registry.Get(c.session.ID())
		return ok && h.registry.Len() == want
	}, waitFor, time.Millisecond)
	h.clients = append(h.clients, c)
	return c
}

func TestSessionConversation(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")

	c1.say("/name alice")
	c1.expect("Name changed into alice")
	c2.expect("unknown renamed into alice")

	c1.say("hello")
	c2.expect("alice: hello")
	c1.expectNothing()

	c1.say("/stop")
	c1.expect("bye-bye")
	c1.waitDone()
	c2.expect("alice has left")

	require.NoError(t, <-c1.served)
	require.Equal(t, Terminated, c1.session.State())
	require.Equal(t, 1, h.registry.Len())
	require.True(t, c1.conn.isClosed())
	require.Equal(t, Running, c2.session.State())
}

func TestSessionRenameThenChat(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")

	c1.say("/name bob")
	c1.say("hi")
	c2.expect("unknown renamed into bob")
	c2.expect("bob: hi")

	c1.say("/name")
	c2.expect("bob renamed into unknown")
	c1.expect("Name changed into bob")
	c1.expect("Name changed into unknown")
}

func TestSessionWhisperUnknownTarget(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")

	c1.say("/w bob hi")
	c1.expect("Cannot find user with name bob")
	c1.expectNothing()
	c2.expectNothing()
}

func TestSessionWhisperAllMatches(t *testing.T) {
	h := newHarness(t)
	sender := h.connect("sender")
	bob1 := h.connect("bob1")
	bob2 := h.connect("bob2")
	other := h.connect("other")

	bob1.say("/name bob")
	bob1.expect("Name changed into bob")
	for _, c := range []*client{sender, bob2, other} {
		c.expect("unknown renamed into bob")
	}
	bob2.say("/name bob")
	bob2.expect("Name changed into bob")
	for _, c := range []*client{sender, bob1, other} {
		c.expect("unknown renamed into bob")
	}

	sender.say("/w bob are you  there")
	bob1.expect("Message from unknown: are you there")
	bob2.expect("Message from unknown: are you there")
	sender.expectNothing()
	other.expectNothing()
	bob1.expectNothing()
	bob2.expectNothing()
}

func TestSessionWhisperEmptyBody(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")
	c2.say("/name bob")
	c2.expect("Name changed into bob")
	c1.expect("unknown renamed into bob")

	c1.say("/w bob")
	c1.expect("Error sending empty message")
	c1.say("/w")
	c1.expect("Error sending empty message")
	c2.expectNothing()
}

func TestSessionBlankChatIsDropped(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")

	c1.say("")
	c1.say("   ")
	c1.say("\t")
	c1.expectNothing()
	c2.expectNothing()
}

func TestSessionQueries(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")
	c2.say("/name carol")
	c2.expect("Name changed into carol")
	c1.expect("unknown renamed into carol")

	c1.say("/clients")
	names := strings.Split(c1.next(), ", ")
	require.ElementsMatch(t, []string{"unknown", "carol"}, names)

	c1.say("/time")
	c1.expect("Fri Oct 16 09:30:00 UTC 2026")

	c1.say("/memory")
	c1.expect("4096")

	c1.say("/r")
	c1.say("/dance now")
	c1.expect("No commands found for /dance")

	c2.expectNothing()
}

func TestSessionCancelTerminatesWithoutGoodbye(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	c1 := h.connectContext(ctx, newFakeConn("one", 100))
	c2 := h.connect("two")

	cancel()
	c1.waitDone()
	c2.expect("unknown has left")
	c1.expectNothing()
	require.True(t, c1.conn.isClosed())
	require.Equal(t, 1, h.registry.Len())
}

func TestSessionCloseTerminates(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")

	c1.session.Close()
	c1.session.Close()
	c1.waitDone()
	c2.expect("unknown has left")
	c2.expectNothing()
}

func TestSessionTransportFailure(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")

	c1.conn.Close()
	c1.waitDone()
	c2.expect("unknown has left")
	require.Equal(t, Terminated, c1.session.State())

	// The survivor keeps working.
	c2.say("/clients")
	c2.expect("unknown")
}

func TestSessionTerminateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	c2 := h.connect("two")

	c1.session.terminate()
	c1.session.terminate()
	c1.waitDone()
	c2.expect("unknown has left")
	c2.expectNothing()
}

func TestSessionServeTwice(t *testing.T) {
	h := newHarness(t)
	c1 := h.connect("one")
	require.ErrorIs(t, c1.session.Serve(context.Background()), ErrSessionClosed)
}

func TestSessionSlowConsumerIsDropped(t *testing.T) {
	h := newHarness(t)
	h.config.OutboxLimit = 2
	sender := h.connect("sender")
	// Nothing ever reads what the slow session writes.
	slow := h.connectConn(newFakeConn("slow", 0))

	for i := 0; i < 5; i++ {
		sender.say("spam")
	}
	slow.waitDone()
	sender.expect("unknown has left")
	require.Equal(t, Running, sender.session.State())
	require.Equal(t, 1, h.registry.Len())
}

func TestSessionInputGuards(t *testing.T) {
	h := newHarness(t)
	h.config.MaxLineLength = 8
	h.config.RateLimit = 2
	h.config.RatePeriod = time.Minute
	c1 := h.connect("one")
	c2 := h.connect("two")

	c1.say("way too long for this")
	c1.expect("Message rejected: Input too long.")

	c1.say("hi")
	c2.expect("unknown: hi")

	c1.say("hey")
	c1.expect("Message rejected: Rate limiting is in effect.")
	c2.expectNothing()
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Running:    "running",
		Stopping:   "stopping",
		Terminated: "terminated",
		State(7):   "State(7)",
	}
	for state, expected := range tests {
		if actual := state.String(); actual != expected {
			t.Errorf("Got: %q; Expected: %q", actual, expected)
		}
	}
}
