package transport

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

// Terminal extends term.Terminal with the ssh connection it runs over, so
// it can be used as a Conn.
type Terminal struct {
	*term.Terminal
	Conn    *ssh.ServerConn
	Channel ssh.Channel
}

// Make new terminal from a session channel
func NewTerminal(conn *ssh.ServerConn, ch ssh.NewChannel) (*Terminal, error) {
	if ch.ChannelType() != "session" {
		return nil, errors.New("terminal requires session channel")
	}
	channel, requests, err := ch.Accept()
	if err != nil {
		return nil, err
	}
	t := Terminal{
		Terminal: term.NewTerminal(channel, ""),
		Conn:     conn,
		Channel:  channel,
	}

	go t.listen(requests)
	go func() {
		conn.Wait()
		channel.Close()
	}()

	return &t, nil
}

// Find session channel and make a Terminal from it
func NewSession(conn *ssh.ServerConn, channels <-chan ssh.NewChannel) (t *Terminal, err error) {
	for ch := range channels {
		if kind := ch.ChannelType(); kind != "session" {
			ch.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %s", kind))
			continue
		}

		t, err = NewTerminal(conn, ch)
		if err == nil {
			break
		}
	}

	if t == nil {
		if err == nil {
			err = errors.New("connection closed before a session was opened")
		}
		return nil, err
	}

	// Reject the rest.
	go func() {
		for ch := range channels {
			ch.Reject(ssh.Prohibited, "only one session allowed")
		}
	}()

	return t, nil
}

// WriteLine writes one line, redrawing whatever the user was typing.
func (t *Terminal) WriteLine(line string) error {
	_, err := t.Write([]byte(line + "\n"))
	return err
}

// Close terminal and ssh connection
func (t *Terminal) Close() error {
	return t.Conn.Close()
}

// RemoteAddr returns the address of the ssh client.
func (t *Terminal) RemoteAddr() net.Addr {
	return t.Conn.RemoteAddr()
}

// Negotiate terminal type and settings
func (t *Terminal) listen(requests <-chan *ssh.Request) {
	hasShell := false

	for req := range requests {
		var width, height int
		var ok bool

		switch req.Type {
		case "shell":
			if !hasShell {
				ok = true
				hasShell = true
			}
		case "pty-req":
			width, height, ok = parsePtyRequest(req.Payload)
			if ok {
				ok = t.SetSize(width, height) == nil
			}
		case "window-change":
			width, height, ok = parseWinchRequest(req.Payload)
			if ok {
				ok = t.SetSize(width, height) == nil
			}
		}

		if req.WantReply {
			req.Reply(ok, nil)
		}
	}
}

type ptyRequest struct {
	Term          string
	Columns, Rows uint32
	Width, Height uint32
	Modes         string
}

type winchRequest struct {
	Columns, Rows uint32
	Width, Height uint32
}

func parsePtyRequest(payload []byte) (width, height int, ok bool) {
	var req ptyRequest
	if err := ssh.Unmarshal(payload, &req); err != nil {
		return 0, 0, false
	}
	return int(req.Columns), int(req.Rows), true
}

func parseWinchRequest(payload []byte) (width, height int, ok bool) {
	var req winchRequest
	if err := ssh.Unmarshal(payload, &req); err != nil {
		return 0, 0, false
	}
	return int(req.Columns), int(req.Rows), true
}
