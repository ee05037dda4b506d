package orchestration

import "context"

type StateName string

const (
	StateSleep      StateName = "sleep"
	StateWake       StateName = "wake"
	StateListening  StateName = "listening"
	StateProcessing StateName = "processing"
	StateSpeaking   StateName = "speaking"
	StateIdle       StateName = "idle"
)

// State is one of the six session states. The unexported methods keep the
// set closed to this package.
type State interface {
	Name() StateName

	enter(ctx context.Context, s *Session)
	exit(ctx context.Context, s *Session)
	// handle runs one step of the state and returns the next state, or nil
	// to stay.
	handle(ctx context.Context, s *Session, input string) State
}

type stateSet struct {
	sleep      *sleepState
	wake       *wakeState
	listening  *listeningState
	processing *processingState
	speaking   *speakingState
	idle       *idleState
}

func (set stateSet) all() []State {
	return []State{set.sleep, set.wake, set.listening, set.processing, set.speaking, set.idle}
}

// capabilities lists the optional collaborators a state was built with.
type capabilities struct {
	streaming bool
	capture   bool
	detector  bool
	batch     bool
}

func newStateSet(caps capabilities) stateSet {
	return stateSet{
		sleep: &sleepState{
			canDetectWake: caps.capture && caps.detector,
		},
		wake: &wakeState{},
		listening: &listeningState{
			canRecord: caps.capture && caps.batch,
		},
		processing: &processingState{},
		speaking:   &speakingState{},
		idle:       &idleState{},
	}
}

// noHooks is embedded by states without enter or exit behavior.
type noHooks struct{}

func (noHooks) enter(context.Context, *Session) {}
func (noHooks) exit(context.Context, *Session)  {}
