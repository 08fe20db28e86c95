package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/command-bridge/pkg/commsutil"
)

const commsForwarderLogPrefix = "events:comms_forwarder"

// CommsForwarderOpts configures CommsForwarder. Nil or zero values use defaults.
type CommsForwarderOpts struct {
	// Prefix overrides the subject prefix (e.g. from COMMS_SUBJECT_PREFIX).
	Prefix string
}

// CommsForwarder republishes every event of a Bus to COMMS, one subject per
// channel, so out-of-process consumers see the same stream as in-process
// subscribers.
type CommsForwarder struct {
	nc       *comms.Conn
	bus      *Bus
	subjects commsutil.Subjects

	mu   sync.Mutex
	subs []*Subscription
}

// NewCommsForwarder creates a new CommsForwarder. Pass nil for opts to use defaults.
func NewCommsForwarder(nc *comms.Conn, bus *Bus, opts *CommsForwarderOpts) *CommsForwarder {
	prefix := ""
	if opts != nil {
		prefix = opts.Prefix
	}
	return &CommsForwarder{nc: nc, bus: bus, subjects: commsutil.NewSubjects(prefix)}
}

// Start subscribes to every channel declared so far. Forwarding stops when
// ctx is done or Stop is called.
func (f *CommsForwarder) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) > 0 {
		return fmt.Errorf("%s - already started", commsForwarderLogPrefix)
	}

	for _, d := range f.bus.Descriptors() {
		subject := f.subjects.Event(d.Channel)
		sub, err := f.bus.Subscribe(ctx, d.Channel, func(_ context.Context, ev Event) {
			f.forward(subject, ev)
		})
		if err != nil {
			f.stopLocked()
			return fmt.Errorf("%s - failed to subscribe to %s: %w", commsForwarderLogPrefix, d.Channel, err)
		}
		f.subs = append(f.subs, sub)
	}

	slog.Info(fmt.Sprintf("%s - forwarding %d channels under %s", commsForwarderLogPrefix, len(f.subs), f.subjects.Events()))
	return nil
}

// Stop ends forwarding. It is safe to call more than once.
func (f *CommsForwarder) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
}

func (f *CommsForwarder) stopLocked() {
	for _, sub := range f.subs {
		f.bus.Unsubscribe(sub)
	}
	f.subs = nil
}

// forward never fails the publisher: transport errors are logged and the
// event is lost for remote consumers only.
func (f *CommsForwarder) forward(subject string, ev Event) {
	data, err := commsutil.EncodePayload(ev)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - failed to encode event: %v", commsForwarderLogPrefix, err))
		return
	}
	if err := f.nc.Publish(subject, data); err != nil {
		slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsForwarderLogPrefix, subject, err))
		return
	}
	slog.Debug(fmt.Sprintf("%s - forwarded %s to %s", commsForwarderLogPrefix, ev.Channel, subject))
}
