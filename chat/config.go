package chat

import "time"

// Config holds the per-session limits. The zero value of a limit disables it.
type Config struct {
	// Lines longer than this are rejected back to the sender.
	MaxLineLength int

	// Pending outbound lines allowed before a slow session is dropped.
	OutboxLimit int

	// Lines accepted per RatePeriod.
	RateLimit  int
	RatePeriod time.Duration

	// How long termination waits for pending lines to be written.
	DrainTimeout time.Duration

	// Source of /time and /memory answers. Defaults to the current process.
	Info SystemInfo
}

// DefaultConfig returns the limits used when nothing else is configured.
func DefaultConfig() Config {
	return Config{
		MaxLineLength: 1024,
		OutboxLimit:   1000,
		RatePeriod:    3 * time.Second,
		DrainTimeout:  2 * time.Second,
	}
}
