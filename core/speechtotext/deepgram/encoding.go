package deepgram

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/koscakluka/ema-companion/core/audio"
)

type encodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

type encodingFormat string

func (e encodingFormat) Name() string { return string(e) }

// setQuery writes the raw audio description the listen endpoint expects.
// Capture is always mono.
func (e encodingInfo) setQuery(query url.Values) {
	query.Set("encoding", e.Format.Name())
	query.Set("sample_rate", strconv.Itoa(e.SampleRate))
	query.Set("channels", "1")
}

const (
	encodingLinear16 encodingFormat = "linear16"
	encodingALaw     encodingFormat = "alaw"
	encodingMulaw    encodingFormat = "mulaw"
)

// convertEncoding maps a capture format onto the encodings the listen
// endpoint accepts for raw audio.
func convertEncoding(encoding audio.EncodingInfo) (*encodingInfo, error) {
	converted := encodingInfo{}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 44100, 48000:
		converted.SampleRate = encoding.SampleRate
	default:
		return nil, fmt.Errorf("unsupported sample rate %d", encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		converted.Format = encodingLinear16
	case audio.EncodingALaw, audio.EncodingMulaw:
		if converted.SampleRate != 8000 {
			return nil, fmt.Errorf("unsupported sample rate %d for %s encoding", converted.SampleRate, encoding.Format.Name())
		}
		converted.Format = encodingFormat(encoding.Format.Name())
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding.Format.Name())
	}

	return &converted, nil
}
