// Package audio provides microphone capture and speaker playback for the
// live voice bridge, plus the PCM conversion helpers shared by the wire
// codec and the playback scheduler.
//
// All audio in the bridge is 16-bit little-endian PCM ("s16le"). Capture runs
// at 16 kHz mono; playback runs at 24 kHz mono. The [Microphone] and
// [Speaker] interfaces decouple the bridge from the PortAudio device layer so
// tests can drive the bridge with synthetic frames.
package audio

import "context"

// Config describes a PCM stream endpoint.
type Config struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count. The bridge uses mono throughout.
	Channels int

	// FramesPerBuffer is the device buffer size in frames. Zero selects a
	// 20ms buffer for the configured sample rate.
	FramesPerBuffer int
}

// withDefaults fills zero-valued fields.
func (c Config) withDefaults() Config {
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.FramesPerBuffer == 0 {
		// 20ms buffers keep capture latency low without hammering the device.
		c.FramesPerBuffer = c.SampleRate / 50
	}
	return c
}

// Microphone captures PCM frames from an input device.
//
// Implementations deliver frames to the channel passed to Capture as soon as
// they are read; they must never buffer frames waiting for more data.
type Microphone interface {
	// Capture reads frames into out until ctx is cancelled. When the
	// receiver falls behind, Capture blocks rather than discarding audio:
	// a gap in the stream breaks voice coherence, growing latency does not.
	Capture(ctx context.Context, out chan<- []byte) error

	// Close releases the input device.
	Close() error
}

// Speaker plays PCM audio on an output device.
type Speaker interface {
	// Play writes one segment of PCM data to the device, blocking until the
	// device has accepted all of it or ctx is cancelled.
	Play(ctx context.Context, pcm []byte) error

	// Close releases the output device.
	Close() error
}
