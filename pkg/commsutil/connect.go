// Package commsutil provides COMMS connection helpers, subject naming and an
// embedded server.
package commsutil

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

// ConnectOpts configures a bridge connection. Zero values take the defaults
// below.
type ConnectOpts struct {
	URL  string
	Name string
	// Timeout bounds the initial dial (default 10s).
	Timeout time.Duration
	// ReconnectWait is the pause between reconnect attempts (default 2s).
	ReconnectWait time.Duration
	// MaxReconnects caps reconnect attempts (default 60, negative retries forever).
	MaxReconnects int
	// Extra options are applied last and win over the defaults.
	Extra []comms.Option
}

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReconnectWait  = 2 * time.Second
	defaultMaxReconnects  = 60
)

// Connect dials COMMS. The connection logs disconnects, reconnects and close.
func Connect(opts ConnectOpts) (*comms.Conn, error) {
	natsOpts, err := opts.natsOptions()
	if err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, natsOpts.Url, natsOpts.Name))

	nc, err := natsOpts.Connect()
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

func (o ConnectOpts) natsOptions() (comms.Options, error) {
	if o.URL == "" {
		return comms.Options{}, errors.New(logPrefix + " - COMMS URL is required")
	}
	name := o.Name
	if name == "" {
		name = "command-bridge"
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	wait := o.ReconnectWait
	if wait <= 0 {
		wait = defaultReconnectWait
	}
	maxReconnects := o.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = defaultMaxReconnects
	}

	natsOpts := comms.GetDefaultOptions()
	natsOpts.Url = o.URL
	all := []comms.Option{
		comms.Name(name),
		comms.Timeout(timeout),
		comms.ReconnectWait(wait),
		comms.MaxReconnects(maxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(*comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
	}
	for _, opt := range append(all, o.Extra...) {
		if err := opt(&natsOpts); err != nil {
			return comms.Options{}, fmt.Errorf("%s - invalid COMMS option: %w", logPrefix, err)
		}
	}
	return natsOpts, nil
}
