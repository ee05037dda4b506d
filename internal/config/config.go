package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-companion/internal/config")

const (
	LLMProviderOpenAI = "openai"
	LLMProviderGroq   = "groq"

	TTSProviderElevenLabs = "elevenlabs"
	TTSProviderDeepgram   = "deepgram"

	AudioBackendMiniaudio = "miniaudio"
	AudioBackendPortaudio = "portaudio"
)

// Config holds everything the companion reads from the environment.
type Config struct {
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	GroqAPIKey       string
	ElevenLabsAPIKey string

	ElevenLabsVoiceID string
	DeepgramTTSVoice  string
	LLMProvider       string
	TTSProvider       string
	AudioBackend      string

	SampleRate          int
	ChunkSize           int
	WakeEnergyThreshold float64
	WakeRequiredHits    int
	TTSPostBuffer       time.Duration
	SleepEntryGuard     time.Duration
	DeepgramEndpointMs  int
	MinTranscriptWords  int

	IdleWarnAfter    time.Duration
	IdleSleepAfter   time.Duration
	IdlePollInterval time.Duration

	SkipAudio              bool
	DegradeOnStreamFailure bool
	PhrasesFile            string
}

// Load reads the given .env files (".env" when none are given) without
// overriding variables already set, then parses the environment. A missing
// .env file is not an error.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("error loading env file: %w", err)
		}
		logger.Debug("no .env file loaded", "error", err)
	}
	return FromEnvironment()
}

// FromEnvironment parses the current environment, applying defaults for
// anything unset.
func FromEnvironment() (Config, error) {
	p := parser{}
	cfg := Config{
		DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		GroqAPIKey:       os.Getenv("GROQ_API_KEY"),
		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),

		ElevenLabsVoiceID: stringOr("ELEVENLABS_VOICE_ID", "J74irub9nJ8NIWEDskLz"),
		DeepgramTTSVoice:  stringOr("DEEPGRAM_TTS_VOICE", "aura-orion-en"),
		LLMProvider:       strings.ToLower(stringOr("LLM_PROVIDER", LLMProviderOpenAI)),
		TTSProvider:       strings.ToLower(stringOr("TTS_PROVIDER", TTSProviderElevenLabs)),
		AudioBackend:      strings.ToLower(stringOr("AUDIO_BACKEND", AudioBackendMiniaudio)),

		SampleRate:          p.int("SAMPLE_RATE", 16000),
		ChunkSize:           p.int("CHUNK_SIZE", 1024),
		WakeEnergyThreshold: p.float("WAKE_ENERGY_THRESHOLD", 220),
		WakeRequiredHits:    p.int("WAKE_REQUIRED_HITS", 2),
		TTSPostBuffer:       p.seconds("TTS_POST_BUFFER", 50*time.Millisecond),
		SleepEntryGuard:     p.seconds("SLEEP_ENTRY_GUARD", 600*time.Millisecond),
		DeepgramEndpointMs:  p.int("DEEPGRAM_ENDPOINT_MS", 200),
		MinTranscriptWords:  p.int("MIN_TRANSCRIPT_WORDS", 2),

		IdleWarnAfter:    p.seconds("IDLE_WARN_AFTER", 45*time.Second),
		IdleSleepAfter:   p.seconds("IDLE_SLEEP_AFTER", 60*time.Second),
		IdlePollInterval: p.seconds("IDLE_POLL_INTERVAL", time.Second),

		SkipAudio:              p.bool("COMPANION_SKIP_AUDIO", false),
		DegradeOnStreamFailure: p.bool("COMPANION_DEGRADE_ON_STREAM_FAILURE", false),
		PhrasesFile:            os.Getenv("COMPANION_PHRASES_FILE"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fails when a credential needed by the selected providers is
// missing or a provider name is unknown.
func (c Config) Validate() error {
	var errs []error
	switch c.LLMProvider {
	case LLMProviderOpenAI, LLMProviderGroq:
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	switch c.TTSProvider {
	case TTSProviderElevenLabs, TTSProviderDeepgram:
	default:
		errs = append(errs, fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider))
	}
	switch c.AudioBackend {
	case AudioBackendMiniaudio, AudioBackendPortaudio:
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIO_BACKEND %q", c.AudioBackend))
	}

	if missing := c.missingCredentials(); len(missing) > 0 {
		errs = append(errs, fmt.Errorf("Missing required environment variables: %s", strings.Join(missing, ", ")))
	}
	return errors.Join(errs...)
}

func (c Config) missingCredentials() []string {
	type credential struct{ name, value string }
	required := []credential{{"DEEPGRAM_API_KEY", c.DeepgramAPIKey}}

	switch c.LLMProvider {
	case LLMProviderOpenAI:
		required = append(required, credential{"OPENAI_API_KEY", c.OpenAIAPIKey})
	case LLMProviderGroq:
		required = append(required, credential{"GROQ_API_KEY", c.GroqAPIKey})
	}
	if c.TTSProvider == TTSProviderElevenLabs {
		required = append(required, credential{"ELEVENLABS_API_KEY", c.ElevenLabsAPIKey})
	}

	missing := []string{}
	for _, credential := range required {
		if credential.value == "" {
			missing = append(missing, credential.name)
		}
	}
	return missing
}

func stringOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// parser collects every malformed value instead of stopping at the first.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return fallback
	}
	return value
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return fallback
	}
	return value
}

// seconds reads a duration given in (fractional) seconds, like "0.6".
func (p *parser) seconds(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return fallback
	}
	if value < 0 {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: must not be negative", key, raw))
		return fallback
	}
	return time.Duration(value * float64(time.Second))
}

func (p *parser) bool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, raw, err))
		return fallback
	}
	return value
}
