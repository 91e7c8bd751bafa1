package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/shazow/rateio"
	"golang.org/x/crypto/ssh"
)

const handshakeTimeout = 30 * time.Second

// Container for the connection and ssh-related configuration
type SSHListener struct {
	net.Listener
	config            *ssh.ServerConfig
	RateLimit         func() rateio.Limiter
	KeepAliveInterval time.Duration

	stop      chan struct{}
	closeOnce sync.Once
}

// Make an SSH listener socket
func ListenSSH(laddr string, config *ssh.ServerConfig) (*SSHListener, error) {
	socket, err := net.Listen("tcp", laddr)
	if err != nil {
		return nil, err
	}
	l := SSHListener{
		Listener:          socket,
		config:            config,
		KeepAliveInterval: 30 * time.Second,
		stop:              make(chan struct{}),
	}
	return &l, nil
}

// Close stops accepting and releases the socket.
func (l *SSHListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.stop)
	})
	return l.Listener.Close()
}

func (l *SSHListener) handleConn(conn net.Conn) (*Terminal, error) {
	if l.RateLimit != nil {
		conn = ReadLimitConn(conn, l.RateLimit())
	}

	// Clients that never finish the handshake don't get to hold a socket.
	conn.SetDeadline(time.Now().Add(handshakeTimeout))

	// Upgrade TCP connection to SSH connection
	sshConn, channels, requests, err := ssh.NewServerConn(conn, l.config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	go ssh.DiscardRequests(requests)
	terminal, err := NewSession(sshConn, channels)
	if err != nil {
		sshConn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	if l.KeepAliveInterval > 0 {
		go KeepAlive(terminal, l.KeepAliveInterval, l.stop)
	}
	return terminal, nil
}

// ServeConns accepts incoming connections as terminal requests and yields
// them. The channel is closed once the listener is closed and every pending
// handshake has finished.
func (l *SSHListener) ServeConns() <-chan Conn {
	ch := make(chan Conn)

	go func() {
		var wg sync.WaitGroup
		defer close(ch)
		defer wg.Wait()
		defer l.Close()

		for {
			conn, err := l.Accept()
			if err != nil {
				if !errors.Is(err, net.ErrClosed) {
					logger.Printf("Failed to accept connection: %v", err)
				}
				return
			}

			// Goroutineify to resume accepting sockets early
			wg.Add(1)
			go func() {
				defer wg.Done()
				term, err := l.handleConn(conn)
				if err != nil {
					logger.Printf("[%s] Failed to handshake: %v", conn.RemoteAddr(), err)
					return
				}
				select {
				case ch <- term:
				case <-l.stop:
					term.Close()
				}
			}()
		}
	}()

	return ch
}

// KeepAlive sends keepalive requests every interval until the terminal goes
// away or stop is closed.
func KeepAlive(t *Terminal, interval time.Duration, stop <-chan struct{}) {
	// There's no useful response from these, so we can just abort if there's an error
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			_, err := t.Channel.SendRequest("keepalive@openssh.com", true, nil)
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
