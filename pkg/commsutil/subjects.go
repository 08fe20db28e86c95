package commsutil

import (
	"fmt"
	"strings"
)

// DefaultPrefix roots every bridge subject unless COMMS_SUBJECT_PREFIX says
// otherwise.
const DefaultPrefix = "bridge"

// Subjects are the COMMS subjects of one bridge instance.
type Subjects struct {
	Prefix string
}

// NewSubjects returns the subjects under prefix, or DefaultPrefix if empty.
func NewSubjects(prefix string) Subjects {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Subjects{Prefix: prefix}
}

// Invoke carries invocation requests; replies are envelopes.
func (s Subjects) Invoke() string {
	return s.Prefix + ".invoke"
}

// Cancel carries cancellation notices keyed by request id.
func (s Subjects) Cancel() string {
	return s.Prefix + ".cancel"
}

// Contract answers with the exported contract and its version.
func (s Subjects) Contract() string {
	return s.Prefix + ".contract"
}

// Event builds the subject for a <feature>:<event> channel, e.g.
// "bridge.events.templates.changed".
func (s Subjects) Event(channel string) string {
	feature, event, ok := strings.Cut(channel, ":")
	if !ok {
		return fmt.Sprintf("%s.events.%s", s.Prefix, channel)
	}
	return fmt.Sprintf("%s.events.%s.%s", s.Prefix, feature, event)
}

// Events matches every event subject.
func (s Subjects) Events() string {
	return s.Prefix + ".events.>"
}

// ChannelFromSubject reverses Event. It returns false for subjects outside
// the events namespace.
func (s Subjects) ChannelFromSubject(subject string) (string, bool) {
	rest, ok := strings.CutPrefix(subject, s.Prefix+".events.")
	if !ok {
		return "", false
	}
	feature, event, ok := strings.Cut(rest, ".")
	if !ok || feature == "" || event == "" || strings.Contains(event, ".") {
		return "", false
	}
	return feature + ":" + event, true
}
