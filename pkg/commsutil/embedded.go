package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
)

const embeddedLogPrefix = "commsutil:embedded"

// EmbeddedOpts configures StartEmbedded.
type EmbeddedOpts struct {
	Host string
	// Port 0 picks a random free port.
	Port int
	// ReadyTimeout bounds the wait for the server to accept clients.
	ReadyTimeout time.Duration
}

// StartEmbedded runs an in-process COMMS server for single-host setups.
// Callers own shutdown via Shutdown and WaitForShutdown.
func StartEmbedded(opts EmbeddedOpts) (*commsserver.Server, error) {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port == 0 {
		port = commsserver.RANDOM_PORT
	}
	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ns, err := commsserver.NewServer(&commsserver.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create server: %w", embeddedLogPrefix, err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(timeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("%s - server not ready after %s", embeddedLogPrefix, timeout)
	}

	slog.Info(fmt.Sprintf("%s - embedded COMMS listening at %s", embeddedLogPrefix, ns.ClientURL()))
	return ns, nil
}
