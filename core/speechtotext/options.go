package speechtotext

import (
	"errors"
	"time"

	"github.com/koscakluka/ema-companion/core/audio"
	"github.com/koscakluka/ema-companion/core/events"
)

// ErrReconnectExhausted is reported to error listeners when every connection
// attempt in a retry cycle failed.
var ErrReconnectExhausted = errors.New("speech-to-text connection attempts exhausted")

type (
	WakeListener       func(events.WakeDirective)
	TranscriptListener func(events.TranscriptRecord)
	ErrorListener      func(error)
)

type StreamingOptions struct {
	EncodingInfo audio.EncodingInfo

	Model          string
	EndpointingMs  int
	InterimResults bool

	// MinTranscriptWords is the smallest final transcript forwarded for a
	// reply without terminal punctuation.
	MinTranscriptWords int
	// PostBuffer keeps the microphone muted after playback ends.
	PostBuffer time.Duration

	Phrases Phrases
}

type StreamingOption func(*StreamingOptions)

func DefaultStreamingOptions() StreamingOptions {
	return StreamingOptions{
		EncodingInfo:       audio.GetDefaultEncodingInfo(),
		Model:              "nova-2",
		EndpointingMs:      200,
		InterimResults:     true,
		MinTranscriptWords: 2,
		PostBuffer:         50 * time.Millisecond,
		Phrases:            DefaultPhrases(),
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) StreamingOption {
	return func(o *StreamingOptions) {
		o.EncodingInfo = encodingInfo
	}
}

func WithModel(model string) StreamingOption {
	return func(o *StreamingOptions) {
		o.Model = model
	}
}

func WithEndpointing(ms int) StreamingOption {
	return func(o *StreamingOptions) {
		o.EndpointingMs = max(ms, 0)
	}
}

func WithMinTranscriptWords(words int) StreamingOption {
	return func(o *StreamingOptions) {
		o.MinTranscriptWords = words
	}
}

func WithPostBuffer(buffer time.Duration) StreamingOption {
	return func(o *StreamingOptions) {
		o.PostBuffer = max(buffer, 0)
	}
}

func WithPhrases(phrases Phrases) StreamingOption {
	return func(o *StreamingOptions) {
		o.Phrases = phrases
	}
}
