package events

import "time"

// Kind identifies the type of an event crossing from a recognizer into the
// control loop.
type Kind string

const (
	// KindWakeDirective identifies a control directive produced by a recognizer.
	KindWakeDirective Kind = "control.wake_directive"
	// KindTranscriptRecord identifies a recognized utterance.
	KindTranscriptRecord Kind = "user_input.transcript_record"
)

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base carries the fields shared by every event. Events are values and are
// never modified after construction.
type Base struct {
	kind       Kind
	occurredAt time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, occurredAt: time.Now().UTC()}
}

func (b Base) Kind() Kind { return b.kind }

func (b Base) Timestamp() time.Time { return b.occurredAt }

// Age is how long ago the event occurred relative to now. Events stamped in
// the future report zero.
func (b Base) Age(now time.Time) time.Duration {
	return max(now.Sub(b.occurredAt), 0)
}
