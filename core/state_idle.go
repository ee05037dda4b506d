package orchestration

import "context"

type idleState struct{ noHooks }

func (*idleState) Name() StateName { return StateIdle }

func (*idleState) handle(ctx context.Context, s *Session, _ string) State {
	s.pollWait(ctx)
	return s.states.listening
}
