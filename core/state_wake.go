package orchestration

import "context"

type wakeState struct{ noHooks }

func (*wakeState) Name() StateName { return StateWake }

func (*wakeState) handle(_ context.Context, s *Session, _ string) State {
	if s.pendingReplyText != "" {
		return s.states.listening
	}

	s.bridge.ClearTranscripts()
	s.pendingReplyText = LineWelcome
	s.continuation = s.states.listening
	return s.states.speaking
}
