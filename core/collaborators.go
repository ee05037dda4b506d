package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-companion/core/speechtotext"
)

// StreamingRecognizer pushes directives and transcripts through listeners
// and is told when the companion speaks so it can ignore its own voice.
type StreamingRecognizer interface {
	AddWakeListener(listener speechtotext.WakeListener)
	AddTranscriptListener(listener speechtotext.TranscriptListener)
	AddErrorListener(listener speechtotext.ErrorListener)
	SetSpeaking(isSpeaking bool)
	// NotifyResponseSent schedules the unmute after playback. A nil
	// bufferOverride keeps the recognizer's own post buffer.
	NotifyResponseSent(duration time.Duration, bufferOverride *time.Duration)
}

// BatchRecognizer transcribes a recorded WAV clip. It returns an empty string
// on any failure.
type BatchRecognizer interface {
	Transcribe(ctx context.Context, audio []byte) string
}

type Reasoner interface {
	Generate(ctx context.Context, text string) (string, error)
}

// Synthesizer renders text into an audio file at OutputPath.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
	LastDuration() time.Duration
	OutputPath() string
}

type Player interface {
	PlayFile(ctx context.Context, path string) error
}

// Capture is the microphone read by the non-streaming paths. Audio captured
// while speaking, or before a MuteFor deadline, is never returned as sound.
type Capture interface {
	StartStream() error
	ReadChunk() ([]byte, error)
	StopStream() error
	SetSpeaking(isSpeaking bool)
	MuteFor(d time.Duration)
}

type WakeDetector interface {
	Detect(chunk []byte) bool
}
