package orchestration

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnavailable is returned when a collaborator was never configured. It is
// an expected outcome, not a fault.
var ErrUnavailable = errors.New("collaborator unavailable")

// CollaboratorFault wraps an unexpected failure, including a recovered
// panic, raised by an external collaborator.
type CollaboratorFault struct {
	Collaborator string
	Err          error
}

func (f *CollaboratorFault) Error() string {
	return fmt.Sprintf("%s failed: %v", f.Collaborator, f.Err)
}

func (f *CollaboratorFault) Unwrap() error { return f.Err }

// IsFault reports whether err came from a misbehaving collaborator rather
// than an absent one.
func IsFault(err error) bool {
	var fault *CollaboratorFault
	return errors.As(err, &fault)
}

// invokeCollaborator runs call and converts both returned errors and panics
// into a *CollaboratorFault. ErrUnavailable passes through untouched.
func invokeCollaborator(ctx context.Context, name string, call func(context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &CollaboratorFault{Collaborator: name, Err: fmt.Errorf("panicked: %v", recovered)}
		}
		if err != nil && !errors.Is(err, ErrUnavailable) {
			recordFault(ctx, name, err)
		}
	}()

	if err = call(ctx); err != nil && !errors.Is(err, ErrUnavailable) && !IsFault(err) {
		err = &CollaboratorFault{Collaborator: name, Err: err}
	}
	return err
}

func recordFault(ctx context.Context, name string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	collaboratorFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("collaborator", name)))
	logger.WarnContext(ctx, "collaborator failed", "collaborator", name, "error", err)
}
