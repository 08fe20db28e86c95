package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/command-bridge/pkg/bridgeerr"
	"github.com/morezero/command-bridge/pkg/metrics"
	"github.com/morezero/command-bridge/pkg/schema"
)

const logPrefix = "events:bus"

// Rejection reasons recorded on the rejected-events metric.
const (
	reasonUnknownChannel = "unknown_channel"
	reasonSchema         = "schema"
)

// Bus owns the declared channels and their subscriptions. It is safe for
// concurrent use. The subscriber set is locked only while it is changed or
// copied; callbacks always run with the lock released.
type Bus struct {
	types   *schema.TypeSet
	metrics *metrics.Metrics

	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	desc Descriptor
	subs []*Subscription
}

// NewBusParams holds parameters for NewBus.
type NewBusParams struct {
	// Types resolves refs in payload types. Usually the registry's type set.
	Types   *schema.TypeSet
	Metrics *metrics.Metrics
}

// NewBus creates an empty Bus.
func NewBus(params NewBusParams) *Bus {
	types := params.Types
	if types == nil {
		types = schema.NewTypeSet()
	}
	return &Bus{types: types, metrics: params.Metrics, channels: make(map[string]*channel)}
}

// Declare adds a channel. Names must follow <feature>:<event> and be unique.
func (b *Bus) Declare(desc Descriptor) error {
	if !channelNameRegex.MatchString(desc.Channel) {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, desc.Channel, "channel name must look like <feature>:<event> in lowercase")
	}
	if desc.Payload == nil {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, desc.Channel+".payload", "missing payload type")
	}
	if err := schema.Validate(desc.Channel+".payload", desc.Payload); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.channels[desc.Channel]; exists {
		return bridgeerr.AtPath(bridgeerr.InvalidDeclaration, desc.Channel, "channel %q is already declared", desc.Channel)
	}
	desc.Payload = desc.Payload.Clone()
	b.channels[desc.Channel] = &channel{desc: desc}
	b.metrics.SetSubscribers(desc.Channel, 0)

	slog.Debug(fmt.Sprintf("%s - declared channel=%s payload=%s", logPrefix, desc.Channel, desc.Payload))
	return nil
}

// MustDeclare is Declare for static declarations; it panics on error.
func (b *Bus) MustDeclare(desc Descriptor) {
	if err := b.Declare(desc); err != nil {
		panic(err)
	}
}

// Validate resolves every declared payload type.
func (b *Bus) Validate() error {
	for _, d := range b.Descriptors() {
		if err := b.types.Resolve(d.Channel+".payload", d.Payload); err != nil {
			slog.Error(fmt.Sprintf("%s - validation failed: %v", logPrefix, err))
			return err
		}
	}
	return nil
}

// Descriptors lists the declared channels in name order.
func (b *Bus) Descriptors() []Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Descriptor, 0, len(b.channels))
	for _, ch := range b.channels {
		out = append(out, ch.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

// Signatures lists the exportable channel signatures in name order.
func (b *Bus) Signatures() []schema.ChannelSig {
	descs := b.Descriptors()
	sigs := make([]schema.ChannelSig, len(descs))
	for i, d := range descs {
		sigs[i] = d.Signature()
	}
	return sigs
}

// State reports whether the channel currently has subscribers.
func (b *Bus) State(name string) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[name]
	if !ok {
		return "", unknownChannel(name)
	}
	if len(ch.subs) == 0 {
		return Idle, nil
	}
	return Active, nil
}

// Subscribe registers cb on the channel. The subscription ends when
// Unsubscribe is called or when ctx is done, whichever comes first.
// Events published before Subscribe returns are never replayed.
func (b *Bus) Subscribe(ctx context.Context, name string, cb Callback) (*Subscription, error) {
	if cb == nil {
		return nil, bridgeerr.AtPath(bridgeerr.InvalidDeclaration, name, "nil callback")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[name]
	if !ok {
		return nil, unknownChannel(name)
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		Channel:   name,
		CreatedAt: time.Now(),
		callback:  cb,
	}
	ch.subs = append(ch.subs, sub)
	if ctx != nil && ctx.Done() != nil {
		sub.stop = context.AfterFunc(ctx, func() { b.Unsubscribe(sub) })
	}
	b.metrics.SetSubscribers(name, len(ch.subs))

	slog.Debug(fmt.Sprintf("%s - subscribed channel=%s id=%s subscribers=%d", logPrefix, name, sub.ID, len(ch.subs)))
	return sub, nil
}

// Unsubscribe ends sub. It is idempotent and accepts nil. Once it returns,
// later publishes skip sub, and publishes already in progress skip it unless
// they have reached its callback. A callback running concurrently on another
// goroutine, or one that passed the cancellation check an instant before,
// still completes.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil || !sub.cancelled.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	stop := sub.stop
	if ch, ok := b.channels[sub.Channel]; ok {
		for i, s := range ch.subs {
			if s == sub {
				ch.subs = append(ch.subs[:i:i], ch.subs[i+1:]...)
				break
			}
		}
		b.metrics.SetSubscribers(sub.Channel, len(ch.subs))
	}
	b.mu.Unlock()

	if stop != nil {
		stop()
	}
	slog.Debug(fmt.Sprintf("%s - unsubscribed channel=%s id=%s", logPrefix, sub.Channel, sub.ID))
}

// Publish encodes payload against the channel's type and delivers it to
// every active subscriber in subscription order, in the calling goroutine.
// A payload that does not match is dropped whole and reported as
// PayloadSchemaViolation. A panicking callback is logged and skipped.
func (b *Bus) Publish(ctx context.Context, name string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	ch, ok := b.channels[name]
	var (
		desc Descriptor
		subs []*Subscription
	)
	if ok {
		desc = ch.desc
		subs = append(subs, ch.subs...)
	}
	b.mu.Unlock()

	if !ok {
		b.metrics.EventRejected(name, reasonUnknownChannel)
		slog.Warn(fmt.Sprintf("%s - publish to undeclared channel=%s", logPrefix, name))
		return unknownChannel(name)
	}

	raw, err := schema.Encode(b.types, desc.Payload, "payload", payload)
	if err != nil {
		b.metrics.EventRejected(name, reasonSchema)
		slog.Warn(fmt.Sprintf("%s - dropped event channel=%s: %v", logPrefix, name, err))
		path := ""
		var ve *schema.ValueError
		if errors.As(err, &ve) {
			path = ve.Path
		}
		return bridgeerr.Wrap(bridgeerr.PayloadSchemaViolation, path, err)
	}

	ev := Event{Channel: name, Payload: raw}
	for _, sub := range subs {
		b.deliver(ctx, sub, ev)
	}
	b.metrics.EventPublished(name)
	return nil
}

// deliver runs sub's callback unless sub was cancelled after the publish
// snapshotted the subscriber list.
func (b *Bus) deliver(ctx context.Context, sub *Subscription, ev Event) {
	if sub.cancelled.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.metrics.CallbackFault(ev.Channel)
			slog.Error(fmt.Sprintf("%s - subscriber panicked channel=%s id=%s: %v\n%s",
				logPrefix, ev.Channel, sub.ID, r, debug.Stack()))
		}
	}()
	sub.callback(ctx, ev)
}

func unknownChannel(name string) error {
	return bridgeerr.AtPath(bridgeerr.UnknownChannel, name, "no channel named %q", name)
}
