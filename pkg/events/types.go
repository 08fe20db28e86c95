// Package events implements typed, one-directional event channels from the
// backend to its subscribers, and forwarding of those events to COMMS.
package events

import (
	"context"
	"encoding/json"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/morezero/command-bridge/pkg/schema"
)

// channelNameRegex enforces the <feature>:<event> naming convention.
var channelNameRegex = regexp.MustCompile(`^[a-z0-9-]+:[a-z0-9-]+$`)

// Descriptor declares a channel and the shape of its payload.
type Descriptor struct {
	Channel     string
	Payload     *schema.Type
	Description string
}

// Signature returns the exportable form of the descriptor.
func (d Descriptor) Signature() schema.ChannelSig {
	return schema.ChannelSig{Name: d.Channel, Description: d.Description, Payload: d.Payload}
}

// Event is one delivered notification. Payload is already encoded against
// the channel's payload type.
type Event struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into dst.
func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}

// State is the lifecycle state of a channel.
type State string

const (
	// Idle channels have no subscribers.
	Idle State = "idle"
	// Active channels have at least one subscriber.
	Active State = "active"
)

// Callback receives events. It runs in the publisher's goroutine, so it
// should hand off anything slow.
type Callback func(ctx context.Context, ev Event)

// Subscription is a registered callback on one channel.
type Subscription struct {
	ID        string
	Channel   string
	CreatedAt time.Time

	callback  Callback
	cancelled atomic.Bool
	stop      func() bool
}

// Cancelled reports whether the subscription has ended.
func (s *Subscription) Cancelled() bool {
	return s.cancelled.Load()
}
