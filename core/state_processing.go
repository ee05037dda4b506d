package orchestration

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

type processingState struct{ noHooks }

func (*processingState) Name() StateName { return StateProcessing }

func (*processingState) handle(ctx context.Context, s *Session, input string) State {
	text := strings.TrimSpace(s.pendingUserText)
	if text == "" {
		text = input
	}
	s.pendingUserText = ""

	reply := LineNothingHeard
	if text != "" {
		reply = s.reason(ctx, text)
	}

	s.pendingReplyText = reply
	s.continuation = s.states.listening
	return s.states.speaking
}

// reason asks the reasoner for a reply and substitutes a fixed line for any
// failure.
func (s *Session) reason(ctx context.Context, text string) string {
	ctx, span := tracer.Start(ctx, "reason")
	defer span.End()
	span.SetAttributes(attribute.String("turn.id", s.turnID))

	var reply string
	err := invokeCollaborator(ctx, "reasoner", func(ctx context.Context) error {
		if s.reasoner == nil {
			return ErrUnavailable
		}

		var err error
		reply, err = s.reasoner.Generate(ctx, text)
		return err
	})

	switch {
	case errors.Is(err, ErrUnavailable):
		return LineReasonerOffline
	case err != nil:
		return LineReasonerFault
	case strings.TrimSpace(reply) == "":
		return LineEmptyReply
	}
	return strings.TrimSpace(reply)
}
