// Package live defines the duplex voice-session contract used by the
// conversation bridge.
//
// A [Session] is one bidirectional audio stream against a speech-to-speech
// model: microphone PCM goes in via SendAudio, and everything the model emits
// comes back as a single ordered stream of tagged [Event] values. Keeping all
// server activity on one channel preserves the arrival order between audio
// chunks and their transcriptions, which separate channels would lose.
package live

import (
	"context"
	"fmt"
)

// Audio format constants for live sessions. Input is what the model accepts
// from the microphone; output is what its synthesised speech arrives as.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// Role identifies the speaker of a transcript line.
type Role string

const (
	// RoleUser is the traveller speaking into the microphone.
	RoleUser Role = "user"

	// RoleModel is the interpreter voice synthesised by the model.
	RoleModel Role = "model"
)

// Event is one tagged occurrence on a live session. The concrete types are
// [AudioEvent], [TranscriptEvent], [TurnEvent], [ErrorEvent], and
// [ClosedEvent].
type Event interface {
	isEvent()
}

// AudioEvent carries one segment of synthesised speech, s16le PCM at
// [OutputSampleRate], mono. Segments must be played in arrival order.
type AudioEvent struct {
	PCM []byte
}

// TranscriptEvent carries one piece of recognised or synthesised text.
type TranscriptEvent struct {
	Role Role
	Text string
}

// TurnEvent marks a model turn boundary. Interrupted is true when the model
// stopped speaking because the user barged in; queued playback for the turn
// should be flushed.
type TurnEvent struct {
	Complete    bool
	Interrupted bool
}

// ErrorEvent carries a non-fatal error reported by the server inside an open
// session.
type ErrorEvent struct {
	Err error
}

// ClosedEvent is the final event on the stream; no events follow it. Err is
// nil for a locally requested close.
type ClosedEvent struct {
	Err error
}

func (AudioEvent) isEvent()      {}
func (TranscriptEvent) isEvent() {}
func (TurnEvent) isEvent()       {}
func (ErrorEvent) isEvent()      {}
func (ClosedEvent) isEvent()     {}

// Session is one open duplex voice stream.
//
// Implementations must be safe for concurrent use: SendAudio is called from
// the capture loop while Events is drained elsewhere. Close is idempotent.
type Session interface {
	// SendAudio delivers one microphone frame (s16le PCM at
	// [InputSampleRate], mono) to the model. Frames are forwarded
	// immediately, never batched.
	SendAudio(chunk []byte) error

	// Events returns the ordered event stream. The channel is closed after
	// a [ClosedEvent] is delivered.
	Events() <-chan Event

	// Close terminates the session and releases its resources. Idempotent.
	Close() error
}

// Dialer opens live sessions. The bridge holds a Dialer rather than a
// Session so it can reconnect when the counterpart language changes.
type Dialer interface {
	Connect(ctx context.Context, cfg Config) (Session, error)
}

// Config describes one live interpreter session.
type Config struct {
	// UserLanguage is the traveller's language.
	UserLanguage string

	// CounterpartLanguage is the local party's language. Changing it
	// requires a new session.
	CounterpartLanguage string

	// Voice selects the prebuilt voice for the synthesised side. Empty
	// means the provider default.
	Voice string

	// Scenario is optional context injected into the interpreter's
	// instructions, e.g. the fare negotiation the traveller is in the
	// middle of.
	Scenario string
}

// Instructions renders the interpreter system prompt for this config.
func (c Config) Instructions() string {
	user := c.UserLanguage
	if user == "" {
		user = "English"
	}
	counterpart := c.CounterpartLanguage
	if counterpart == "" {
		counterpart = user
	}

	prompt := fmt.Sprintf(
		"You are a live two-way interpreter between a traveller speaking %s and a local speaking %s. "+
			"When you hear %s, speak the %s translation aloud; when you hear %s, speak the %s translation aloud. "+
			"Translate faithfully and keep the speaker's tone. Do not add commentary of your own.",
		user, counterpart, user, counterpart, counterpart, user)
	if c.Scenario != "" {
		prompt += " Situation: " + c.Scenario
	}
	return prompt
}
