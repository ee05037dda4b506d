package portaudio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-companion/core/audio"
)

// Client is a blocking-read microphone. Playback is left to other devices.
type Client struct {
	sampleRate int
	stream     *portaudio.Stream
	in         []int16

	started    atomic.Bool
	speaking   atomic.Bool
	mutedUntil atomic.Int64
	mu         sync.Mutex
}

func NewClient(sampleRate, chunkSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	in := make([]int16, chunkSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), chunkSize, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open PortAudio stream: %w", err)
	}

	return &Client{
		sampleRate: sampleRate,
		stream:     stream,
		in:         in,
	}, nil
}

func (c *Client) StartStream() error {
	if c.started.Load() {
		return nil
	}

	log.Println("Starting microphone capture. Speak now...")
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("failed to start PortAudio stream: %w", err)
	}
	c.started.Store(true)
	return nil
}

func (c *Client) StopStream() error {
	if !c.started.Swap(false) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop PortAudio stream: %w", err)
	}
	return nil
}

// ReadChunk blocks for one buffer of samples.
func (c *Client) ReadChunk() ([]byte, error) {
	if !c.started.Load() {
		return nil, fmt.Errorf("stream not started")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.stream.Read(); err != nil {
		return nil, fmt.Errorf("failed to read from PortAudio stream: %w", err)
	}

	audioBuffer := bytes.Buffer{}
	if err := binary.Write(&audioBuffer, binary.LittleEndian, c.in); err != nil {
		return nil, fmt.Errorf("failed to encode samples: %w", err)
	}

	chunk := audioBuffer.Bytes()
	if c.speaking.Load() || time.Now().UnixNano() < c.mutedUntil.Load() {
		clear(chunk)
	}
	return chunk, nil
}

// SetSpeaking silences reads while the companion talks.
func (c *Client) SetSpeaking(isSpeaking bool) { c.speaking.Store(isSpeaking) }

func (c *Client) MuteFor(d time.Duration) {
	until := time.Now().Add(max(d, 0)).UnixNano()
	for {
		current := c.mutedUntil.Load()
		if current >= until || c.mutedUntil.CompareAndSwap(current, until) {
			return
		}
	}
}

func (c *Client) Close() {
	_ = c.StopStream()
	c.stream.Close()
	portaudio.Terminate()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
