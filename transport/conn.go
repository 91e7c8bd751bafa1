// Package transport turns stream sockets into connections that carry
// discrete lines of text. It knows nothing about chat.
package transport

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// DefaultMaxLineLength caps how much a client may send without a newline.
const DefaultMaxLineLength = 64 * 1024

// ErrLineTooLong is returned when a client sends more than the maximum line
// length without a newline.
var ErrLineTooLong = errors.New("line too long")

// Conn is a connection that carries lines.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
	RemoteAddr() net.Addr
}

// LineConn reads and writes newline-terminated lines over a net.Conn.
// Incoming lines may end in "\n" or "\r\n"; outgoing lines end in "\n".
type LineConn struct {
	net.Conn
	reader       *bufio.Reader
	maxLength    int
	writeTimeout time.Duration
	wmu          sync.Mutex
}

// NewLineConn wraps conn. A maxLength of zero means DefaultMaxLineLength; a
// writeTimeout of zero means writes have no deadline.
func NewLineConn(conn net.Conn, maxLength int, writeTimeout time.Duration) *LineConn {
	if maxLength <= 0 {
		maxLength = DefaultMaxLineLength
	}
	return &LineConn{
		Conn:         conn,
		reader:       bufio.NewReader(conn),
		maxLength:    maxLength,
		writeTimeout: writeTimeout,
	}
}

// ReadLine blocks until a full line arrives.
func (c *LineConn) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.reader.ReadLine()
		if err != nil {
			return "", err
		}
		line = append(line, chunk...)
		if len(line) > c.maxLength {
			return "", ErrLineTooLong
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

// WriteLine writes line followed by a newline.
func (c *LineConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := c.Write([]byte(line + "\n"))
	return err
}
