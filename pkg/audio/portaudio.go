package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// initOnce guards the process-wide PortAudio initialisation.
var (
	initMu   sync.Mutex
	initRefs int
)

// initPortAudio initialises the PortAudio runtime, reference-counted so the
// microphone and speaker can be opened and closed independently.
func initPortAudio() error {
	initMu.Lock()
	defer initMu.Unlock()
	if initRefs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("audio: initialize portaudio: %w", err)
		}
	}
	initRefs++
	return nil
}

// releasePortAudio terminates the runtime once the last device is closed.
func releasePortAudio() {
	initMu.Lock()
	defer initMu.Unlock()
	initRefs--
	if initRefs == 0 {
		_ = portaudio.Terminate()
	}
}

var _ Microphone = (*DeviceMicrophone)(nil)

// DeviceMicrophone captures s16le PCM from the default input device.
type DeviceMicrophone struct {
	stream *portaudio.Stream
	buf    []int16
	cfg    Config
}

// OpenMicrophone opens the default input device with the given config.
func OpenMicrophone(cfg Config) (*DeviceMicrophone, error) {
	cfg = cfg.withDefaults()
	if err := initPortAudio(); err != nil {
		return nil, err
	}

	m := &DeviceMicrophone{
		buf: make([]int16, cfg.FramesPerBuffer*cfg.Channels),
		cfg: cfg,
	}
	stream, err := portaudio.OpenDefaultStream(
		cfg.Channels, 0, float64(cfg.SampleRate), cfg.FramesPerBuffer, m.buf)
	if err != nil {
		releasePortAudio()
		return nil, fmt.Errorf("audio: open input stream: %w", err)
	}
	m.stream = stream
	return m, nil
}

// Capture implements [Microphone].
func (m *DeviceMicrophone) Capture(ctx context.Context, out chan<- []byte) error {
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("audio: start capture: %w", err)
	}
	defer m.stream.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.stream.Read(); err != nil {
			return fmt.Errorf("audio: read input: %w", err)
		}

		frame := Int16ToBytes(m.buf)
		select {
		case out <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close implements [Microphone].
func (m *DeviceMicrophone) Close() error {
	err := m.stream.Close()
	releasePortAudio()
	return err
}

var _ Speaker = (*DeviceSpeaker)(nil)

// DeviceSpeaker plays s16le PCM on the default output device.
type DeviceSpeaker struct {
	stream  *portaudio.Stream
	buf     []int16
	cfg     Config
	started bool
	mu      sync.Mutex
}

// OpenSpeaker opens the default output device with the given config.
func OpenSpeaker(cfg Config) (*DeviceSpeaker, error) {
	cfg = cfg.withDefaults()
	if err := initPortAudio(); err != nil {
		return nil, err
	}

	s := &DeviceSpeaker{
		buf: make([]int16, cfg.FramesPerBuffer*cfg.Channels),
		cfg: cfg,
	}
	stream, err := portaudio.OpenDefaultStream(
		0, cfg.Channels, float64(cfg.SampleRate), cfg.FramesPerBuffer, s.buf)
	if err != nil {
		releasePortAudio()
		return nil, fmt.Errorf("audio: open output stream: %w", err)
	}
	s.stream = stream
	return s, nil
}

// Play implements [Speaker]. The segment is written buffer by buffer; a
// final partial buffer is zero-padded.
func (s *DeviceSpeaker) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		if err := s.stream.Start(); err != nil {
			return fmt.Errorf("audio: start playback: %w", err)
		}
		s.started = true
	}

	samples := BytesToInt16(pcm)
	for len(samples) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(s.buf, samples)
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
		samples = samples[n:]
		if err := s.stream.Write(); err != nil {
			return fmt.Errorf("audio: write output: %w", err)
		}
	}
	return nil
}

// Close implements [Speaker].
func (s *DeviceSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		_ = s.stream.Stop()
	}
	err := s.stream.Close()
	releasePortAudio()
	return err
}
