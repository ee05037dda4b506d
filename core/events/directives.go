package events

import "fmt"

// DirectiveKind names the control intent carried by a WakeDirective.
type DirectiveKind int

const (
	// DirectiveUnknown is never produced by a recognizer. The resolver ignores it.
	DirectiveUnknown DirectiveKind = iota
	// DirectiveWake asks a sleeping companion to wake up.
	DirectiveWake
	// DirectiveSleep is a goodbye phrase. It is answered with a refusal line
	// and still returns to sleep.
	DirectiveSleep
	// DirectiveSatisfied is the care-satisfaction confirmation.
	DirectiveSatisfied
	// DirectiveForceSleep puts the companion to sleep without speaking.
	DirectiveForceSleep
)

func (k DirectiveKind) String() string {
	switch k {
	case DirectiveWake:
		return "wake"
	case DirectiveSleep:
		return "sleep"
	case DirectiveSatisfied:
		return "satisfied"
	case DirectiveForceSleep:
		return "force_sleep"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// WakeDirective is a control intent detected in a final transcript. It is
// consumed at most once by the control loop.
type WakeDirective struct {
	Base
	Directive  DirectiveKind
	Transcript string
}

// NewWakeDirective creates a directive event for the given transcript.
func NewWakeDirective(directive DirectiveKind, transcript string) WakeDirective {
	return WakeDirective{
		Base:       NewBase(KindWakeDirective),
		Directive:  directive,
		Transcript: transcript,
	}
}

func (d WakeDirective) String() string {
	return d.Directive.String() + ": " + d.Transcript
}
