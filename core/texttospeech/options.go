package texttospeech

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/koscakluka/ema-companion/core/audio"
)

const DefaultOutputPath = "output.wav"

// ErrEmptyText is returned when there is nothing to synthesize.
var ErrEmptyText = errors.New("no text to synthesize")

type SynthesisOptions struct {
	EncodingInfo audio.EncodingInfo
	OutputPath   string
}

type SynthesisOption func(*SynthesisOptions)

func DefaultSynthesisOptions() SynthesisOptions {
	return SynthesisOptions{
		EncodingInfo: audio.GetDefaultEncodingInfo(),
		OutputPath:   DefaultOutputPath,
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) SynthesisOption {
	return func(o *SynthesisOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}

// WithOutputPath sets the file every synthesized reply is written to.
func WithOutputPath(path string) SynthesisOption {
	return func(o *SynthesisOptions) {
		if path != "" {
			o.OutputPath = path
		}
	}
}

// Output is the WAV file a synthesizer renders into. It is shared by the
// synthesizer implementations and satisfies the OutputPath and LastDuration
// half of their contract.
type Output struct {
	path     string
	encoding audio.EncodingInfo

	mu           sync.Mutex
	lastDuration time.Duration
}

func NewOutput(options SynthesisOptions) *Output {
	return &Output{path: options.OutputPath, encoding: options.EncodingInfo}
}

// Write replaces the output file with pcm wrapped in a WAV container.
func (o *Output) Write(pcm []byte) error {
	if o.encoding.Format != audio.EncodingLinear16 {
		return fmt.Errorf("unsupported output encoding %s", o.encoding.Format.Name())
	}

	if dir := filepath.Dir(o.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(o.path, audio.EncodeWAV(pcm, o.encoding.SampleRate), 0o644); err != nil {
		return fmt.Errorf("failed to write speech file: %w", err)
	}

	o.mu.Lock()
	o.lastDuration = o.encoding.Duration(len(pcm))
	o.mu.Unlock()
	return nil
}

func (o *Output) OutputPath() string { return o.path }

// LastDuration is the playback length of the last written file.
func (o *Output) LastDuration() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastDuration
}

func (o *Output) EncodingInfo() audio.EncodingInfo { return o.encoding }
