package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	orchestration "github.com/koscakluka/ema-companion/core"
	"github.com/koscakluka/ema-companion/core/audio"
	"github.com/koscakluka/ema-companion/core/audio/miniaudio"
	"github.com/koscakluka/ema-companion/core/audio/portaudio"
	"github.com/koscakluka/ema-companion/core/llms"
	"github.com/koscakluka/ema-companion/core/llms/groq"
	"github.com/koscakluka/ema-companion/core/llms/openai"
	"github.com/koscakluka/ema-companion/core/speechtotext"
	"github.com/koscakluka/ema-companion/core/speechtotext/deepgram"
	"github.com/koscakluka/ema-companion/core/texttospeech"
	deepgramtts "github.com/koscakluka/ema-companion/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-companion/core/texttospeech/elevenlabs"
	"github.com/koscakluka/ema-companion/core/wakeword"
	"github.com/koscakluka/ema-companion/internal/config"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const (
	startupAudioPath = "audio/startup_initializing.wav"
	replyAudioPath   = "audio/output.wav"
	onlineLine       = "System online."
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-companion/cmd/companion")

// capture is a microphone the companion can also stream from.
type capture interface {
	orchestration.Capture
	Close()
}

type companion struct {
	cfg config.Config

	capture capture
	speaker *miniaudio.Client
	stream  *deepgram.StreamingClient
	synth   orchestration.Synthesizer
	session *orchestration.Session
	idle    *orchestration.IdleMonitor

	shutdownOnce sync.Once
}

func newCompanion(cfg config.Config, flags runFlags, status *statusFeed) (*companion, error) {
	c := &companion{cfg: cfg}

	phrases := speechtotext.DefaultPhrases()
	if cfg.PhrasesFile != "" {
		loaded, err := speechtotext.LoadPhrases(cfg.PhrasesFile)
		if err != nil {
			return nil, err
		}
		phrases = loaded
	}

	if err := c.openAudio(); err != nil {
		c.shutdown()
		return nil, err
	}
	encoding := audio.EncodingInfo{SampleRate: cfg.SampleRate, Format: audio.EncodingLinear16}

	synth, err := newSynthesizer(cfg, encoding)
	if err != nil {
		c.shutdown()
		return nil, err
	}
	c.synth = synth

	reasoner, err := newReasoner(cfg)
	if err != nil {
		c.shutdown()
		return nil, err
	}

	batch, err := deepgram.NewPrerecordedClient(cfg.DeepgramAPIKey)
	if err != nil {
		c.shutdown()
		return nil, err
	}

	opts := []orchestration.SessionOption{
		orchestration.WithBatchRecognizer(batch),
		orchestration.WithReasoner(reasoner),
		orchestration.WithSynthesizer(synth),
		orchestration.WithPlayer(c.speaker),
		orchestration.WithCapture(c.capture),
		orchestration.WithEncodingInfo(encoding),
		orchestration.WithPhrases(phrases),
		orchestration.WithPostBuffer(cfg.TTSPostBuffer),
		orchestration.WithSleepEntryGuard(cfg.SleepEntryGuard),
		orchestration.WithSkipPlayback(cfg.SkipAudio),
		orchestration.WithDegradeOnStreamFailure(cfg.DegradeOnStreamFailure),
		orchestration.WithWakeDetector(wakeword.NewEnergyDetector(cfg.WakeEnergyThreshold, cfg.WakeRequiredHits)),
	}
	if status != nil {
		opts = append(opts, status.sessionOptions()...)
	}

	if !flags.noStream {
		stream, err := deepgram.NewStreamingClient(cfg.DeepgramAPIKey, c.capture,
			deepgram.WithStreamingOptions(
				speechtotext.WithEncodingInfo(encoding),
				speechtotext.WithEndpointing(cfg.DeepgramEndpointMs),
				speechtotext.WithMinTranscriptWords(cfg.MinTranscriptWords),
				speechtotext.WithPostBuffer(cfg.TTSPostBuffer),
				speechtotext.WithPhrases(phrases),
			),
		)
		if err != nil {
			c.shutdown()
			return nil, err
		}
		c.stream = stream
		opts = append(opts, orchestration.WithStreamingRecognizer(stream))
	}

	c.session = orchestration.NewSession(opts...)
	return c, nil
}

// openAudio picks the capture device by backend; playback always goes
// through miniaudio.
func (c *companion) openAudio() error {
	speaker, err := miniaudio.NewClient(
		miniaudio.WithSampleRate(c.cfg.SampleRate),
		miniaudio.WithChunkSize(c.cfg.ChunkSize),
	)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	c.speaker = speaker

	switch c.cfg.AudioBackend {
	case config.AudioBackendPortaudio:
		mic, err := portaudio.NewClient(c.cfg.SampleRate, c.cfg.ChunkSize)
		if err != nil {
			return fmt.Errorf("failed to open portaudio microphone: %w", err)
		}
		c.capture = mic
	default:
		c.capture = speaker
	}
	return nil
}

func newSynthesizer(cfg config.Config, encoding audio.EncodingInfo) (orchestration.Synthesizer, error) {
	synthesisOptions := []texttospeech.SynthesisOption{
		texttospeech.WithEncodingInfo(encoding),
		texttospeech.WithOutputPath(replyAudioPath),
	}

	switch cfg.TTSProvider {
	case config.TTSProviderDeepgram:
		voice, ok := deepgramtts.ParseVoice(cfg.DeepgramTTSVoice)
		if !ok {
			return nil, fmt.Errorf("unknown DEEPGRAM_TTS_VOICE %q", cfg.DeepgramTTSVoice)
		}
		client, err := deepgramtts.NewTextToSpeechClient(cfg.DeepgramAPIKey, voice,
			deepgramtts.WithSynthesisOptions(synthesisOptions...))
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := elevenlabs.NewTextToSpeechClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsVoiceID,
			elevenlabs.WithSynthesisOptions(synthesisOptions...))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func newReasoner(cfg config.Config) (*llms.Persona, error) {
	switch cfg.LLMProvider {
	case config.LLMProviderGroq:
		client, err := groq.NewClient(cfg.GroqAPIKey)
		if err != nil {
			return nil, err
		}
		return llms.NewPersona(llms.WithPrompter(client)), nil
	default:
		client, err := openai.NewClient(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, err
		}
		return llms.NewPersona(llms.WithPrompter(client)), nil
	}
}

// start plays the startup sound while the stream connects, announces that
// the companion is online and starts the idle monitor.
func (c *companion) start(ctx context.Context) error {
	startupDone := make(chan struct{})
	go func() {
		defer close(startupDone)
		c.playStartupAudio(ctx)
	}()

	if c.stream != nil {
		if err := c.stream.Start(ctx); err != nil {
			if !c.cfg.DegradeOnStreamFailure {
				<-startupDone
				return fmt.Errorf("failed to start speech recognition: %w", err)
			}
			logger.WarnContext(ctx, "streaming unavailable, continuing without it", "error", err)
		}
		c.idle = orchestration.NewIdleMonitor(c.session,
			orchestration.WithIdleWarnAfter(c.cfg.IdleWarnAfter),
			orchestration.WithIdleSleepAfter(c.cfg.IdleSleepAfter),
			orchestration.WithIdlePollInterval(c.cfg.IdlePollInterval),
		)
		c.idle.Start(ctx)
	}

	<-startupDone
	c.announceOnline(ctx)
	return nil
}

// playStartupAudio plays the cached startup sound, synthesizing it on first
// run.
func (c *companion) playStartupAudio(ctx context.Context) {
	if c.cfg.SkipAudio {
		return
	}

	if _, err := os.Stat(startupAudioPath); errors.Is(err, os.ErrNotExist) {
		if err := c.synth.Speak(ctx, "Initializing"); err != nil {
			logger.WarnContext(ctx, "failed to synthesize startup audio", "error", err)
			return
		}
		if err := os.MkdirAll(filepath.Dir(startupAudioPath), 0o755); err != nil {
			logger.WarnContext(ctx, "failed to create audio directory", "error", err)
			return
		}
		if err := os.Rename(c.synth.OutputPath(), startupAudioPath); err != nil {
			logger.WarnContext(ctx, "failed to cache startup audio", "error", err)
			return
		}
	}

	if err := c.speaker.PlayFile(ctx, startupAudioPath); err != nil {
		logger.WarnContext(ctx, "failed to play startup audio", "error", err)
	}
}

// announceOnline speaks outside the state machine and unmutes right after,
// so the wake phrase is heard immediately.
func (c *companion) announceOnline(ctx context.Context) {
	if c.stream != nil {
		c.stream.SetSpeaking(true)
	}
	c.capture.SetSpeaking(true)

	var duration time.Duration
	if err := c.synth.Speak(ctx, onlineLine); err != nil {
		logger.WarnContext(ctx, "online announcement failed", "error", err)
	} else {
		duration = c.synth.LastDuration()
		if !c.cfg.SkipAudio {
			if err := c.speaker.PlayFile(ctx, c.synth.OutputPath()); err != nil {
				logger.WarnContext(ctx, "failed to play online announcement", "error", err)
			}
		}
	}

	if c.stream != nil {
		c.stream.SetSpeaking(false)
		noBuffer := time.Duration(0)
		c.stream.NotifyResponseSent(duration, &noBuffer)
	}
	c.capture.SetSpeaking(false)
}

// shutdown stops everything in reverse order of start. It is safe to call
// on a partially constructed companion, and more than once.
func (c *companion) shutdown() {
	c.shutdownOnce.Do(c.close)
}

func (c *companion) close() {
	if c.stream != nil {
		c.stream.Stop()
	}
	if c.idle != nil {
		c.idle.Stop()
	}
	if c.session != nil {
		c.session.Close()
	}
	if c.capture != nil && c.capture != capture(c.speaker) {
		c.capture.Close()
	}
	if c.speaker != nil {
		c.speaker.Close()
	}
}
