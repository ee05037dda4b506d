package miniaudio

import (
	"context"
	"fmt"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-companion/core/audio"
)

// Client owns one miniaudio context with a capture and a playback device.
// It serves both as the companion's microphone and as its speaker.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	playbackClient
	captureClient

	sampleRate int
}

type ClientOption func(*clientOptions)

type clientOptions struct {
	sampleRate int
	chunkSize  int
}

func WithSampleRate(sampleRate int) ClientOption {
	return func(o *clientOptions) { o.sampleRate = sampleRate }
}

// WithChunkSize sets how many frames ReadChunk returns at a time.
func WithChunkSize(frames int) ClientOption {
	return func(o *clientOptions) { o.chunkSize = frames }
}

func NewClient(opts ...ClientOption) (*Client, error) {
	options := clientOptions{sampleRate: audio.DefaultSampleRate, chunkSize: audio.DefaultChunkSize}
	for _, opt := range opts {
		opt(&options)
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {})
	if err != nil {
		return nil, fmt.Errorf("malgo InitContext failed: %w", err)
	}

	client := Client{audioContext: audioCtx, sampleRate: options.sampleRate}

	if err := client.playbackClient.Init(audioCtx, options.sampleRate); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.captureClient.Init(audioCtx, options.sampleRate, options.chunkSize); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

func (c *Client) StartStream() error                    { return c.captureClient.Start() }
func (c *Client) StopStream() error                     { return c.captureClient.Stop() }
func (c *Client) ReadChunk() ([]byte, error)            { return c.captureClient.Read() }
func (c *Client) MuteFor(d time.Duration)               { c.captureClient.MuteFor(d) }
func (c *Client) SetSpeaking(isSpeaking bool)           { c.captureClient.SetSpeaking(isSpeaking) }
func (c *Client) DroppedChunks() int64                  { return c.captureClient.dropped.Load() }
func (c *Client) StopPlayback() error                   { return c.playbackClient.Stop() }
func (c *Client) StartPlayback(_ context.Context) error { return c.playbackClient.Start() }

func (c *Client) Close() {
	_ = c.captureClient.Uninit()
	_ = c.playbackClient.Uninit()
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
	}
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: c.sampleRate,
		Format:     audio.EncodingLinear16,
	}
}
