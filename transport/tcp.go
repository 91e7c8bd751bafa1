package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/shazow/rateio"
)

// TCPListener yields plain line-oriented TCP connections.
type TCPListener struct {
	net.Listener
	RateLimit     func() rateio.Limiter
	MaxLineLength int
	WriteTimeout  time.Duration

	stop      chan struct{}
	closeOnce sync.Once
}

// ListenTCP opens a TCP listener socket.
func ListenTCP(laddr string) (*TCPListener, error) {
	socket, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	l := TCPListener{
		Listener:     socket,
		WriteTimeout: 10 * time.Second,
		stop:         make(chan struct{}),
	}
	return &l, nil
}

// Close stops accepting and releases the socket.
func (l *TCPListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
	})
	return l.Listener.Close()
}

func (l *TCPListener) wrap(conn net.Conn) Conn {
	if l.RateLimit != nil {
		conn = ReadLimitConn(conn, l.RateLimit())
	}
	return NewLineConn(conn, l.MaxLineLength, l.WriteTimeout)
}

// ServeConns accepts incoming connections and yields them. The channel is
// closed once the listener is closed.
func (l *TCPListener) ServeConns() <-chan Conn {
	ch := make(chan Conn)

	go func() {
		defer l.Close()
		defer close(ch)

		for {
			conn, err := l.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logger.Printf("Failed to accept connection: %v", err)
				}
				return
			}

			select {
			case ch <- l.wrap(conn):
			case <-l.stop:
				conn.Close()
				return
			}
		}
	}()

	return ch
}
