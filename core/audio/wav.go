package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrNotWAV = errors.New("not a PCM WAV stream")

// EncodeWAV wraps mono 16-bit PCM samples in a RIFF/WAVE container.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// WAV is a decoded PCM WAV stream.
type WAV struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Data          []byte
}

func (w WAV) Duration() time.Duration {
	bytesPerSecond := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(w.Data)) * time.Second / time.Duration(bytesPerSecond)
}

// DecodeWAV reads the fmt and data chunks of a PCM WAV stream, skipping any
// other chunks.
func DecodeWAV(data []byte) (*WAV, error) {
	reader := bytes.NewReader(data)

	var header struct {
		RIFF [4]byte
		Size uint32
		WAVE [4]byte
	}
	if err := binary.Read(reader, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(header.RIFF[:]) != "RIFF" || string(header.WAVE[:]) != "WAVE" {
		return nil, ErrNotWAV
	}

	wav := WAV{}
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(reader, binary.LittleEndian, &chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}

		switch string(chunk.ID[:]) {
		case "fmt ":
			var format struct {
				AudioFormat   uint16
				Channels      uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if err := binary.Read(reader, binary.LittleEndian, &format); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			if format.AudioFormat != 1 {
				return nil, ErrNotWAV
			}
			wav.SampleRate = int(format.SampleRate)
			wav.Channels = int(format.Channels)
			wav.BitsPerSample = int(format.BitsPerSample)
			if extra := int64(chunk.Size) - 16; extra > 0 {
				if _, err := reader.Seek(extra, io.SeekCurrent); err != nil {
					return nil, fmt.Errorf("failed to skip fmt extension: %w", err)
				}
			}
		case "data":
			size := min(int(chunk.Size), reader.Len())
			wav.Data = make([]byte, size)
			if _, err := io.ReadFull(reader, wav.Data); err != nil {
				return nil, fmt.Errorf("failed to read data chunk: %w", err)
			}
			if wav.SampleRate == 0 {
				return nil, ErrNotWAV
			}
			return &wav, nil
		default:
			if _, err := reader.Seek(int64(chunk.Size+chunk.Size%2), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("failed to skip chunk: %w", err)
			}
		}
	}

	return nil, ErrNotWAV
}
