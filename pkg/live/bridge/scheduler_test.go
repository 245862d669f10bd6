package bridge

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock. Sleep advances it instantly so
// scheduler tests run in virtual time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type playRecord struct {
	at  time.Time
	pcm []byte
}

// recordingSpeaker records each Play call with the virtual time it happened.
type recordingSpeaker struct {
	clock  *fakeClock
	played chan playRecord
}

func newRecordingSpeaker(clock *fakeClock) *recordingSpeaker {
	return &recordingSpeaker{clock: clock, played: make(chan playRecord, 16)}
}

func (s *recordingSpeaker) Play(_ context.Context, pcm []byte) error {
	s.played <- playRecord{at: s.clock.Now(), pcm: pcm}
	return nil
}

func (s *recordingSpeaker) Close() error { return nil }

func waitPlay(t *testing.T, s *recordingSpeaker) playRecord {
	t.Helper()
	select {
	case rec := <-s.played:
		return rec
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for playback")
		return playRecord{}
	}
}

// halfSecond is 500 ms of mono s16le audio at the default 24 kHz output rate.
var halfSecond = make([]byte, 24000)

func TestSchedulerPlaysBackToBackWithoutGaps(t *testing.T) {
	clock := newFakeClock()
	spk := newRecordingSpeaker(clock)
	sched := NewScheduler(spk, WithSchedulerClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	t0 := clock.Now()
	sched.Enqueue(halfSecond)
	sched.Enqueue(halfSecond)

	first := waitPlay(t, spk)
	second := waitPlay(t, spk)

	if !first.at.Equal(t0) {
		t.Errorf("first segment started at %v, want %v", first.at, t0)
	}
	want := t0.Add(500 * time.Millisecond)
	if !second.at.Equal(want) {
		t.Errorf("second segment started at %v, want %v (end of first)", second.at, want)
	}
}

func TestSchedulerQueueOutrunsPlayback(t *testing.T) {
	clock := newFakeClock()
	spk := newRecordingSpeaker(clock)
	sched := NewScheduler(spk, WithSchedulerClock(clock))

	// Three segments of 1.0 s, 0.5 s, and 2.0 s arrive before any of them has
	// finished playing. Each must start exactly where the previous one ends.
	oneSecond := make([]byte, 48000)
	twoSeconds := make([]byte, 96000)
	sched.Enqueue(oneSecond)
	sched.Enqueue(halfSecond)
	sched.Enqueue(twoSeconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t0 := clock.Now()
	go sched.Run(ctx)

	for i, offset := range []time.Duration{0, time.Second, 1500 * time.Millisecond} {
		rec := waitPlay(t, spk)
		want := t0.Add(offset)
		if !rec.at.Equal(want) {
			t.Errorf("segment %d started at %v, want %v", i, rec.at, want)
		}
	}
}

func TestSchedulerStartsFreshAfterIdleGap(t *testing.T) {
	clock := newFakeClock()
	spk := newRecordingSpeaker(clock)
	sched := NewScheduler(spk, WithSchedulerClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	t0 := clock.Now()
	sched.Enqueue(halfSecond)
	waitPlay(t, spk)

	// Let the timeline go idle well past the end of the first segment.
	clock.Advance(2 * time.Second)
	sched.Enqueue(halfSecond)

	rec := waitPlay(t, spk)
	want := t0.Add(2 * time.Second)
	if !rec.at.Equal(want) {
		t.Errorf("segment after idle gap started at %v, want now (%v)", rec.at, want)
	}
}

func TestSchedulerFlushDropsQueuedSegments(t *testing.T) {
	clock := newFakeClock()
	spk := newRecordingSpeaker(clock)
	sched := NewScheduler(spk, WithSchedulerClock(clock))

	// Queue three segments before the loop starts, then flush them.
	sched.Enqueue([]byte{1, 1})
	sched.Enqueue([]byte{2, 2})
	sched.Enqueue([]byte{3, 3})
	sched.Flush()
	sched.Enqueue([]byte{4, 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	rec := waitPlay(t, spk)
	if len(rec.pcm) != 2 || rec.pcm[0] != 4 {
		t.Errorf("played %v, want the post-flush segment", rec.pcm)
	}

	select {
	case rec := <-spk.played:
		t.Errorf("unexpected extra playback: %v", rec.pcm)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSchedulerFlushResetsTimeline(t *testing.T) {
	clock := newFakeClock()
	spk := newRecordingSpeaker(clock)
	sched := NewScheduler(spk, WithSchedulerClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	t0 := clock.Now()
	sched.Enqueue(halfSecond)
	waitPlay(t, spk)

	// An interruption flushes; the next segment must not wait for the old
	// timeline to elapse.
	sched.Flush()
	sched.Enqueue(halfSecond)

	rec := waitPlay(t, spk)
	if !rec.at.Equal(t0) {
		t.Errorf("segment after flush started at %v, want immediately (%v)", rec.at, t0)
	}
}

func TestSchedulerCloseStopsRun(t *testing.T) {
	clock := newFakeClock()
	spk := newRecordingSpeaker(clock)
	sched := NewScheduler(spk, WithSchedulerClock(clock))

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()

	sched.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after Close, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}
