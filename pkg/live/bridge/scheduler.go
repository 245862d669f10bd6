package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lokalos/citydna/pkg/audio"
	"github.com/lokalos/citydna/pkg/live"
)

// Clock abstracts wall time so playback timing can be driven in tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scheduler plays audio segments in arrival order on a virtual timeline.
//
// Each segment starts at max(nextStartTime, now): back-to-back segments of a
// turn are stitched together without gaps, while a segment arriving after the
// timeline has gone idle starts immediately. Flush drops everything queued and
// resets the timeline, which is what an interrupted turn needs.
type Scheduler struct {
	speaker    audio.Speaker
	clock      Clock
	sampleRate int
	channels   int

	mu      sync.Mutex
	cond    *sync.Cond
	pending [][]byte
	playing bool
	next    time.Time
	closed  bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerClock overrides the wall clock.
func WithSchedulerClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithSegmentFormat overrides the assumed PCM format of enqueued segments.
func WithSegmentFormat(sampleRate, channels int) SchedulerOption {
	return func(s *Scheduler) {
		s.sampleRate = sampleRate
		s.channels = channels
	}
}

// NewScheduler creates a playback scheduler feeding the given speaker.
// Segments default to mono s16le at the live output sample rate.
func NewScheduler(speaker audio.Speaker, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		speaker:    speaker,
		clock:      systemClock{},
		sampleRate: live.OutputSampleRate,
		channels:   1,
	}
	for _, o := range opts {
		o(s)
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Enqueue appends a PCM segment to the playback queue.
func (s *Scheduler) Enqueue(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, pcm)
	s.cond.Signal()
}

// Flush drops every queued segment and resets the timeline. The segment
// currently on the speaker finishes; the next one starts fresh.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.next = time.Time{}
}

// Busy reports whether the scheduler has queued or in-flight audio.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing || len(s.pending) > 0
}

// Close stops the scheduler. Run returns once the queue is abandoned.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Run plays queued segments until the context is cancelled or the scheduler
// is closed. It blocks and is meant to be launched as a goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	// cond.Wait cannot watch the context, so wake the loop on cancellation.
	stop := context.AfterFunc(ctx, func() { s.cond.Broadcast() })
	defer stop()

	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed && ctx.Err() == nil {
			s.cond.Wait()
		}
		if s.closed || ctx.Err() != nil {
			s.mu.Unlock()
			return ctx.Err()
		}

		pcm := s.pending[0]
		s.pending = s.pending[1:]

		start := s.next
		now := s.clock.Now()
		if start.Before(now) {
			start = now
		}
		s.next = start.Add(audio.Duration(len(pcm), s.sampleRate, s.channels))
		s.playing = true
		s.mu.Unlock()

		if wait := start.Sub(now); wait > 0 {
			if err := s.clock.Sleep(ctx, wait); err != nil {
				s.setIdle()
				return err
			}
		}

		err := s.speaker.Play(ctx, pcm)
		s.setIdle()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("bridge: playback: %w", err)
		}
	}
}

func (s *Scheduler) setIdle() {
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
}
