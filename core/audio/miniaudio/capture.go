package miniaudio

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

const (
	capturedChunkBacklog = 64
	readChunkTimeout     = 100 * time.Millisecond
)

// capturedChunk remembers when its last frame arrived so that audio queued
// during playback can be recognized after the mute window has passed.
type capturedChunk struct {
	data       []byte
	capturedAt int64
}

type captureClient struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device
	config       malgo.DeviceConfig

	chunkSize int
	pending   []byte
	chunks    chan capturedChunk
	dropped   atomic.Int64

	speaking   atomic.Bool
	mutedUntil atomic.Int64

	mu sync.Mutex
}

func (c *captureClient) Init(audioContext *malgo.AllocatedContext, sampleRate, chunkSize int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	channels := 1
	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	c.config = malgo.DefaultDeviceConfig(malgo.Capture)
	c.config.SampleRate = uint32(sampleRate)
	c.config.Capture.Format = format
	c.config.Capture.Channels = uint32(channels)
	c.config.Alsa.NoMMap = 1
	c.config.PerformanceProfile = malgo.LowLatency
	c.config.PeriodSizeInFrames = 480
	c.config.Periods = 3

	c.audioContext = audioContext
	c.chunkSize = chunkSize * bytesPerFrame
	c.chunks = make(chan capturedChunk, capturedChunkBacklog)

	var err error
	c.device, err = malgo.InitDevice(c.audioContext.Context, c.config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			c.collect(pInput[:n])
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize capture device: %w", err)
	}

	return nil
}

// collect runs on the device thread and slices captured frames into fixed
// size chunks. Frames captured while speaking are discarded, and chunks are
// dropped when the reader falls behind.
func (c *captureClient) collect(frames []byte) {
	if c.speaking.Load() {
		c.pending = c.pending[:0]
		return
	}

	capturedAt := time.Now().UnixNano()
	c.pending = append(c.pending, frames...)
	for len(c.pending) >= c.chunkSize {
		chunk := capturedChunk{data: make([]byte, c.chunkSize), capturedAt: capturedAt}
		copy(chunk.data, c.pending[:c.chunkSize])
		c.pending = c.pending[c.chunkSize:]

		select {
		case c.chunks <- chunk:
		default:
			c.dropped.Add(1)
		}
	}
}

func (c *captureClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if c.device.IsStarted() {
		return nil
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

func (c *captureClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	} else if !c.device.IsStarted() {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}

// Read waits briefly for the next chunk. A nil chunk means nothing was
// captured in time.
func (c *captureClient) Read() ([]byte, error) {
	if c.chunks == nil {
		return nil, fmt.Errorf("device not initialized")
	}

	timer := time.NewTimer(readChunkTimeout)
	defer timer.Stop()

	select {
	case chunk := <-c.chunks:
		if chunk.capturedAt < c.mutedUntil.Load() {
			clear(chunk.data)
		}
		return chunk.data, nil
	case <-timer.C:
		return nil, nil
	}
}

// SetSpeaking stops queuing audio while the companion talks. Chunks still
// waiting to be read are discarded when speaking starts.
func (c *captureClient) SetSpeaking(isSpeaking bool) {
	c.speaking.Store(isSpeaking)
	if isSpeaking {
		c.drain()
	}
}

func (c *captureClient) drain() {
	for {
		select {
		case <-c.chunks:
		default:
			return
		}
	}
}

// MuteFor silences every chunk captured before now+d, including chunks that
// are already queued.
func (c *captureClient) MuteFor(d time.Duration) {
	until := time.Now().Add(max(d, 0)).UnixNano()
	for {
		current := c.mutedUntil.Load()
		if current >= until || c.mutedUntil.CompareAndSwap(current, until) {
			return
		}
	}
}

func (c *captureClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	return nil
}
