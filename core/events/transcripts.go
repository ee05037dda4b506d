package events

// TranscriptRecord is a recognized utterance. Only final records that pass
// the eligibility policy reach the control loop; interim records are
// informational.
type TranscriptRecord struct {
	Base
	Text          string
	IsFinal       bool
	ShouldProcess bool
}

// NewTranscriptRecord creates a transcript record event.
func NewTranscriptRecord(text string, isFinal, shouldProcess bool) TranscriptRecord {
	return TranscriptRecord{
		Base:          NewBase(KindTranscriptRecord),
		Text:          text,
		IsFinal:       isFinal,
		ShouldProcess: isFinal && shouldProcess,
	}
}

// Eligible reports whether the record may be handed to the reasoner.
func (t TranscriptRecord) Eligible() bool { return t.IsFinal && t.ShouldProcess }

func (t TranscriptRecord) String() string {
	if !t.IsFinal {
		return t.Text + "..."
	}
	return t.Text
}
