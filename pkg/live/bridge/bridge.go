// Package bridge connects a microphone and speaker to a live interpreter
// session.
//
// The bridge runs three loops: the capture loop forwards microphone frames to
// the session as soon as they arrive, the event loop dispatches the session's
// ordered event stream, and the playback scheduler feeds synthesised speech to
// the speaker gaplessly. Changing the counterpart language swaps the
// underlying session in place without disturbing the audio devices.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lokalos/citydna/pkg/audio"
	"github.com/lokalos/citydna/pkg/live"
)

// State describes the bridge lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TranscriptFunc receives transcript lines as they arrive, in stream order.
type TranscriptFunc func(ev live.TranscriptEvent)

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge)

// WithTranscripts registers a callback for transcript events.
func WithTranscripts(fn TranscriptFunc) Option {
	return func(b *Bridge) { b.onTranscript = fn }
}

// WithClock overrides the playback scheduler's wall clock.
func WithClock(c Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// Bridge wires local audio devices to a live interpreter session.
type Bridge struct {
	dialer  live.Dialer
	mic     audio.Microphone
	speaker audio.Speaker

	onTranscript TranscriptFunc
	clock        Clock
	log          *slog.Logger
	sched        *Scheduler

	mu     sync.Mutex
	state  State
	sess   live.Session
	cfg    live.Config
	cancel context.CancelFunc
}

// New creates a Bridge over the given dialer and audio devices. The bridge
// does not touch the devices until Start.
func New(dialer live.Dialer, mic audio.Microphone, speaker audio.Speaker, opts ...Option) *Bridge {
	b := &Bridge{
		dialer:  dialer,
		mic:     mic,
		speaker: speaker,
		clock:   systemClock{},
		log:     slog.Default(),
		state:   StateIdle,
	}
	for _, o := range opts {
		o(b)
	}
	b.sched = NewScheduler(speaker, WithSchedulerClock(b.clock))
	return b
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Speaking reports whether interpreter audio is queued or playing. While it
// is false on an open bridge, the bridge is listening.
func (b *Bridge) Speaking() bool {
	return b.sched.Busy()
}

// Start opens the session and begins streaming. The context bounds the dial
// only; the running bridge lives until Close.
func (b *Bridge) Start(ctx context.Context, cfg live.Config) error {
	b.mu.Lock()
	if b.state != StateIdle {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("bridge: cannot start from state %s", state)
	}
	b.state = StateConnecting
	b.mu.Unlock()

	sess, err := b.dialer.Connect(ctx, cfg)
	if err != nil {
		b.mu.Lock()
		b.state = StateIdle
		b.mu.Unlock()
		return fmt.Errorf("bridge: connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.sess = sess
	b.cfg = cfg
	b.cancel = cancel
	b.state = StateOpen
	b.mu.Unlock()

	go func() {
		if err := b.sched.Run(runCtx); err != nil && runCtx.Err() == nil {
			b.log.Error("playback scheduler stopped", "error", err)
		}
	}()
	go b.captureLoop(runCtx)
	go b.eventLoop(sess)

	b.log.Info("bridge open",
		"user_language", cfg.UserLanguage,
		"counterpart_language", cfg.CounterpartLanguage)
	return nil
}

// SetLanguages replaces the interpreter's language pair. The current session
// is closed and exactly one new session is opened with the updated config;
// queued playback from the old session is flushed.
func (b *Bridge) SetLanguages(ctx context.Context, userLanguage, counterpartLanguage string) error {
	b.mu.Lock()
	if b.state != StateOpen {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("bridge: cannot change languages in state %s", state)
	}
	old := b.sess
	// Detach the session before closing it so its event loop drains out
	// instead of treating the close as a transport failure.
	b.sess = nil
	cfg := b.cfg
	b.mu.Unlock()

	cfg.UserLanguage = userLanguage
	cfg.CounterpartLanguage = counterpartLanguage

	if err := old.Close(); err != nil {
		b.log.Warn("closing previous session", "error", err)
	}
	b.sched.Flush()

	sess, err := b.dialer.Connect(ctx, cfg)
	if err != nil {
		// The old session is gone and no new one exists. Shut the bridge
		// down so the capture and playback loops stop with it.
		if cerr := b.Close(); cerr != nil {
			b.log.Warn("closing bridge", "error", cerr)
		}
		return fmt.Errorf("bridge: reconnect: %w", err)
	}

	b.mu.Lock()
	b.sess = sess
	b.cfg = cfg
	b.mu.Unlock()

	go b.eventLoop(sess)

	b.log.Info("languages changed",
		"user_language", userLanguage,
		"counterpart_language", counterpartLanguage)
	return nil
}

// Close shuts the bridge down. Idempotent.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.state == StateClosed {
		b.mu.Unlock()
		return nil
	}
	b.state = StateClosed
	sess := b.sess
	b.sess = nil
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.sched.Close()

	var err error
	if sess != nil {
		err = sess.Close()
	}
	return err
}

func (b *Bridge) currentSession() live.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sess
}

// captureLoop streams microphone frames to whichever session is current.
func (b *Bridge) captureLoop(ctx context.Context) {
	frames := make(chan []byte, 16)

	go func() {
		if err := b.mic.Capture(ctx, frames); err != nil && ctx.Err() == nil {
			b.log.Error("microphone capture stopped", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			sess := b.currentSession()
			if sess == nil {
				continue
			}
			if err := sess.SendAudio(frame); err != nil {
				// Expected briefly during a language swap.
				b.log.Debug("dropping frame", "error", err)
			}
		}
	}
}

// eventLoop dispatches one session's event stream until it closes. Each
// session gets its own loop: a session detached by SetLanguages drains out
// quietly, while a remote close or transport failure on the active session
// shuts the whole bridge down and releases the loops with it.
func (b *Bridge) eventLoop(sess live.Session) {
	var closeErr error
	for ev := range sess.Events() {
		switch e := ev.(type) {
		case live.AudioEvent:
			b.sched.Enqueue(e.PCM)
		case live.TranscriptEvent:
			if b.onTranscript != nil {
				b.onTranscript(e)
			}
		case live.TurnEvent:
			if e.Interrupted {
				b.sched.Flush()
			}
		case live.ErrorEvent:
			b.log.Warn("session error", "error", e.Err)
		case live.ClosedEvent:
			closeErr = e.Err
		}
	}

	b.mu.Lock()
	current := b.sess == sess
	b.mu.Unlock()
	if !current {
		return
	}

	if closeErr != nil {
		b.log.Warn("session closed remotely", "error", closeErr)
	} else {
		b.log.Info("session closed remotely")
	}
	if err := b.Close(); err != nil {
		b.log.Warn("closing bridge", "error", err)
	}
}
