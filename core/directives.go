package orchestration

import (
	"context"

	"github.com/koscakluka/ema-companion/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// drainDirectives resolves queued directives until a wake directive reaches
// the front. Wake directives are left for the Sleep state.
func (s *Session) drainDirectives(ctx context.Context) (resolved, transitioned bool) {
	for {
		directive, ok := s.bridge.popDirectiveUnless(events.DirectiveWake)
		if !ok {
			return resolved, transitioned
		}

		resolved = true
		if s.resolveDirective(ctx, directive) {
			transitioned = true
		}
	}
}

func (s *Session) resolveDirective(ctx context.Context, directive events.WakeDirective) bool {
	ctx, span := tracer.Start(ctx, "resolve directive")
	defer span.End()
	span.SetAttributes(
		attribute.String("directive", directive.Directive.String()),
		attribute.String("transcript", directive.Transcript),
		attribute.String("state", string(s.current.Name())),
		attribute.Int64("directive.age_ms", directive.Age(s.now()).Milliseconds()),
	)
	directiveCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("directive", directive.Directive.String())))

	switch directive.Directive {
	case events.DirectiveSleep:
		return s.confirmSleep(ctx, LineCannotDeactivate)
	case events.DirectiveSatisfied:
		return s.confirmSleep(ctx, LineSatisfied)
	case events.DirectiveForceSleep:
		return s.forceSleep(ctx)
	default:
		logger.WarnContext(ctx, "ignoring directive of unknown kind", "directive", directive.Directive.String())
		return false
	}
}

// confirmSleep speaks line and then falls asleep.
func (s *Session) confirmSleep(ctx context.Context, line string) bool {
	if s.isAsleep() {
		return false
	}

	s.pendingUserText = ""
	s.pendingReplyText = line
	s.continuation = s.states.sleep
	s.bridge.ClearTranscripts()
	s.armSleepGuard(s.config.sleepEntryGuard)
	s.bridge.ClearDirectivesExcept(events.DirectiveWake)

	if s.current == s.states.speaking {
		return false
	}
	s.setState(ctx, s.states.speaking)
	return true
}

// forceSleep falls asleep without a spoken confirmation.
func (s *Session) forceSleep(ctx context.Context) bool {
	if s.isAsleep() {
		return false
	}

	s.pendingUserText = ""
	s.pendingReplyText = ""
	s.continuation = nil
	s.armSleepGuard(s.config.sleepEntryGuard)
	s.bridge.ClearDirectivesExcept(events.DirectiveWake)
	s.setState(ctx, s.states.sleep)
	return true
}
