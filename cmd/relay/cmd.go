package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"
	"time"

	"github.com/alexcesaro/log"
	"github.com/alexcesaro/log/golog"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/ssh"

	"github.com/relaychat/relay"
	"github.com/relaychat/relay/chat"
	"github.com/relaychat/relay/transport"

	_ "net/http/pprof"
)

// Version of the binary, assigned during build.
var Version string = "dev"

// Options contains the flag options
type Options struct {
	Verbose         []bool        `short:"v" long:"verbose" description:"Show verbose logging."`
	Version         bool          `long:"version" description:"Print version and exit."`
	Bind            string        `long:"bind" env:"RELAY_BIND" description:"Host and port to listen on for plain line connections." default:"0.0.0.0:2020"`
	SSHBind         string        `long:"ssh-bind" env:"RELAY_SSH_BIND" description:"Host and port to listen on for ssh connections. Disabled if empty."`
	Identity        string        `short:"i" long:"identity" env:"RELAY_IDENTITY" description:"Private key to identify the ssh server with. A throwaway key is made if empty." default:"~/.ssh/id_rsa"`
	MaxLine         int           `long:"max-line" env:"RELAY_MAX_LINE" description:"Longest line a client may send." default:"1024"`
	Outbox          int           `long:"outbox" env:"RELAY_OUTBOX" description:"Lines that may pile up for a client before it is dropped." default:"1000"`
	Rate            int           `long:"rate" env:"RELAY_RATE" description:"Lines a client may send per rate period, 0 to disable." default:"0"`
	RatePeriod      time.Duration `long:"rate-period" env:"RELAY_RATE_PERIOD" description:"Window for the rate limit." default:"3s"`
	DrainTimeout    time.Duration `long:"drain-timeout" env:"RELAY_DRAIN_TIMEOUT" description:"How long to flush a leaving client's pending lines." default:"2s"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"RELAY_SHUTDOWN_TIMEOUT" description:"How long to wait for clients on shutdown." default:"5s"`
	Pprof           int           `long:"pprof" env:"RELAY_PPROF" description:"Enable pprof http server for profiling."`
}

var logLevels = []log.Level{
	log.Warning,
	log.Info,
	log.Debug,
}

func fail(code int, format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(code)
}

func main() {
	// Environment from .env is only a fallback for flags, and optional.
	_ = godotenv.Load()

	options := Options{}
	parser := flags.NewParser(&options, flags.Default)
	p, err := parser.Parse()
	if err != nil {
		if p == nil {
			fmt.Print(err)
		}
		return
	}

	if options.Version {
		fmt.Println(Version)
		return
	}

	if options.Pprof != 0 {
		go func() {
			fmt.Println(http.ListenAndServe(fmt.Sprintf("localhost:%d", options.Pprof), nil))
		}()
	}

	// Figure out the log level
	numVerbose := len(options.Verbose)
	if numVerbose >= len(logLevels) {
		numVerbose = len(logLevels) - 1
	}

	logLevel := logLevels[numVerbose]
	logger := golog.New(os.Stderr, logLevel)
	relay.SetLogger(logger)

	if logLevel == log.Debug {
		// Enable logging from submodules
		chat.SetLogger(os.Stderr)
		transport.SetLogger(os.Stderr)
	}

	config := chat.DefaultConfig()
	config.MaxLineLength = options.MaxLine
	config.OutboxLimit = options.Outbox
	config.RateLimit = options.Rate
	config.RatePeriod = options.RatePeriod
	config.DrainTimeout = options.DrainTimeout

	host := relay.NewHost(config)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var listeners transport.MultiCloser

	l, err := transport.ListenTCP(options.Bind)
	if err != nil {
		fail(4, "Failed to listen on socket: %v\n", err)
	}
	l.RateLimit = transport.NewInputLimiter
	listeners = append(listeners, l)
	fmt.Printf("Listening for connections on %v\n", l.Addr().String())
	go host.Serve(ctx, l)

	if options.SSHBind != "" {
		signer, err := hostKey(options.Identity, logger)
		if err != nil {
			fail(2, "Couldn't read private key: %v\n", err)
		}

		sshConfig := transport.MakeNoAuth()
		sshConfig.AddHostKey(signer)
		sshConfig.ServerVersion = "SSH-2.0-Go relay"

		s, err := transport.ListenSSH(options.SSHBind, sshConfig)
		if err != nil {
			listeners.Close()
			fail(4, "Failed to listen on socket: %v\n", err)
		}
		s.RateLimit = transport.NewInputLimiter
		listeners = append(listeners, s)
		fmt.Printf("Listening for ssh connections on %v\n", s.Addr().String())
		go host.Serve(ctx, s)
	}

	// Construct interrupt handler
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	<-sig // Wait for ^C signal
	fmt.Fprintln(os.Stderr, "Interrupt signal detected, shutting down.")

	if err := listeners.Close(); err != nil {
		logger.Debugf("Closing listeners: %v", err)
	}
	if err := host.Shutdown(options.ShutdownTimeout); err != nil {
		logger.Warningf("Shutdown incomplete: %v", err)
	}
}

// hostKey loads the ssh host key, or makes a throwaway one when no identity
// is configured.
func hostKey(path string, logger *golog.Logger) (ssh.Signer, error) {
	if path == "" {
		logger.Warning("No identity given, using a throwaway host key.")
		return transport.NewRandomKey()
	}

	if strings.HasPrefix(path, "~/") {
		user, err := user.Current()
		if err == nil {
			path = strings.Replace(path, "~", user.HomeDir, 1)
		}
	}
	return ReadPrivateKey(path)
}
