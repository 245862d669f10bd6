package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lokalos/citydna/pkg/live"
)

type fakeSession struct {
	events    chan live.Event
	sent      chan []byte
	closeOnce sync.Once

	mu     sync.Mutex
	closes int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events: make(chan live.Event, 16),
		sent:   make(chan []byte, 64),
	}
}

func (s *fakeSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	closed := s.closes > 0
	s.mu.Unlock()
	if closed {
		return errors.New("session closed")
	}
	s.sent <- chunk
	return nil
}

func (s *fakeSession) Events() <-chan live.Event { return s.events }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.events) })
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	configs  []live.Config
	err      error
}

func (d *fakeDialer) Connect(_ context.Context, cfg live.Config) (live.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	sess := newFakeSession()
	d.sessions = append(d.sessions, sess)
	d.configs = append(d.configs, cfg)
	return sess, nil
}

func (d *fakeDialer) connects() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

func (d *fakeDialer) config(i int) live.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configs[i]
}

// fakeMic emits the configured frames once, then blocks until cancelled.
type fakeMic struct {
	frames [][]byte
}

func (m *fakeMic) Capture(ctx context.Context, out chan<- []byte) error {
	for _, f := range m.frames {
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *fakeMic) Close() error { return nil }

type nullSpeaker struct {
	played chan []byte
}

func newNullSpeaker() *nullSpeaker {
	return &nullSpeaker{played: make(chan []byte, 16)}
}

func (s *nullSpeaker) Play(_ context.Context, pcm []byte) error {
	s.played <- pcm
	return nil
}

func (s *nullSpeaker) Close() error { return nil }

func newTestBridge(t *testing.T, dialer *fakeDialer, mic *fakeMic, opts ...Option) *Bridge {
	t.Helper()
	b := New(dialer, mic, newNullSpeaker(), opts...)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBridgeStartStreamsMicrophone(t *testing.T) {
	dialer := &fakeDialer{}
	mic := &fakeMic{frames: [][]byte{{0x01, 0x02}}}
	b := newTestBridge(t, dialer, mic)

	if err := b.Start(context.Background(), live.Config{UserLanguage: "English"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	select {
	case frame := <-dialer.session(0).sent:
		if len(frame) != 2 || frame[0] != 0x01 {
			t.Errorf("forwarded frame = %v, want [1 2]", frame)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("microphone frame never reached the session")
	}
}

func TestBridgeModelAudioReachesSpeaker(t *testing.T) {
	dialer := &fakeDialer{}
	spk := newNullSpeaker()
	b := New(dialer, &fakeMic{}, spk)
	t.Cleanup(func() { b.Close() })

	if err := b.Start(context.Background(), live.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []byte{0xAA, 0xBB}
	dialer.session(0).events <- live.AudioEvent{PCM: want}

	select {
	case got := <-spk.played:
		if string(got) != string(want) {
			t.Errorf("speaker got %v, want %v", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("audio never reached the speaker")
	}
}

func TestBridgeTranscriptCallback(t *testing.T) {
	dialer := &fakeDialer{}
	transcripts := make(chan live.TranscriptEvent, 4)
	b := newTestBridge(t, dialer, &fakeMic{},
		WithTranscripts(func(ev live.TranscriptEvent) { transcripts <- ev }))

	if err := b.Start(context.Background(), live.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dialer.session(0).events <- live.TranscriptEvent{Role: live.RoleUser, Text: "how much to the station"}

	select {
	case ev := <-transcripts:
		if ev.Role != live.RoleUser || ev.Text != "how much to the station" {
			t.Errorf("transcript = %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("transcript callback never fired")
	}
}

func TestBridgeSetLanguagesReplacesSession(t *testing.T) {
	dialer := &fakeDialer{}
	b := newTestBridge(t, dialer, &fakeMic{})

	cfg := live.Config{UserLanguage: "English", CounterpartLanguage: "Hindi", Voice: "Puck"}
	if err := b.Start(context.Background(), cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.SetLanguages(context.Background(), "English", "Kannada"); err != nil {
		t.Fatalf("SetLanguages: %v", err)
	}

	if got := dialer.session(0).closeCount(); got != 1 {
		t.Errorf("old session closed %d times, want exactly 1", got)
	}
	if got := dialer.connects(); got != 2 {
		t.Fatalf("dialer connected %d times, want exactly 2", got)
	}
	next := dialer.config(1)
	if next.CounterpartLanguage != "Kannada" {
		t.Errorf("new session counterpart = %q, want Kannada", next.CounterpartLanguage)
	}
	if next.Voice != "Puck" {
		t.Errorf("voice %q not carried over", next.Voice)
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("state = %v, want open after language change", got)
	}
}

func waitForState(t *testing.T, b *Bridge, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for b.State() != want {
		select {
		case <-deadline:
			t.Fatalf("state = %v, want %v", b.State(), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestBridgeRemoteCloseShutsDown(t *testing.T) {
	dialer := &fakeDialer{}
	b := newTestBridge(t, dialer, &fakeMic{})

	if err := b.Start(context.Background(), live.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The server drops the connection: terminal event, then the stream ends.
	sess := dialer.session(0)
	sess.events <- live.ClosedEvent{Err: errors.New("connection reset")}
	sess.closeOnce.Do(func() { close(sess.events) })

	waitForState(t, b, StateClosed)

	if err := b.Start(context.Background(), live.Config{}); err == nil {
		t.Fatal("Start on a closed bridge should fail")
	}
}

func TestBridgeReconnectFailureClosesBridge(t *testing.T) {
	dialer := &fakeDialer{}
	b := newTestBridge(t, dialer, &fakeMic{})

	if err := b.Start(context.Background(), live.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dialer.mu.Lock()
	dialer.err = errors.New("no network")
	dialer.mu.Unlock()

	if err := b.SetLanguages(context.Background(), "English", "Kannada"); err == nil {
		t.Fatal("SetLanguages should surface the dial error")
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed after failed reconnect", got)
	}

	// Restarting must fail: the capture and playback loops are gone and a
	// fresh Start would double them up over the same devices.
	if err := b.Start(context.Background(), live.Config{}); err == nil {
		t.Fatal("Start after a failed reconnect should fail")
	}
}

func TestBridgeForwardsEveryFrameInOrder(t *testing.T) {
	frames := make([][]byte, 64)
	for i := range frames {
		frames[i] = []byte{byte(i)}
	}
	dialer := &fakeDialer{}
	b := newTestBridge(t, dialer, &fakeMic{frames: frames})

	if err := b.Start(context.Background(), live.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess := dialer.session(0)
	for i := range frames {
		select {
		case got := <-sess.sent:
			if len(got) != 1 || got[0] != byte(i) {
				t.Fatalf("frame %d = %v, want [%d]", i, got, i)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
}

func TestBridgeSetLanguagesBeforeStartFails(t *testing.T) {
	b := newTestBridge(t, &fakeDialer{}, &fakeMic{})
	if err := b.SetLanguages(context.Background(), "English", "Kannada"); err == nil {
		t.Fatal("SetLanguages on an idle bridge should fail")
	}
}

func TestBridgeStartTwiceFails(t *testing.T) {
	dialer := &fakeDialer{}
	b := newTestBridge(t, dialer, &fakeMic{})

	if err := b.Start(context.Background(), live.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Start(context.Background(), live.Config{}); err == nil {
		t.Fatal("second Start should fail")
	}
}

func TestBridgeStartConnectErrorStaysIdle(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("no network")}
	b := newTestBridge(t, dialer, &fakeMic{})

	if err := b.Start(context.Background(), live.Config{}); err == nil {
		t.Fatal("Start should surface the dial error")
	}
	if got := b.State(); got != StateIdle {
		t.Errorf("state = %v, want idle after failed connect", got)
	}
}

func TestBridgeCloseIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	b := New(dialer, &fakeMic{}, newNullSpeaker())

	if err := b.Start(context.Background(), live.Config{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := dialer.session(0).closeCount(); got != 1 {
		t.Errorf("session closed %d times, want 1", got)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}
