package relay

import (
	"io"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
)

var logger *golog.Logger

// SetLogger replaces the leveled logger used by the host.
func SetLogger(l *golog.Logger) {
	logger = l
}

func init() {
	// Set a default null logger
	SetLogger(golog.New(io.Discard, log.Debug))
}
