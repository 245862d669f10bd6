// Package intel defines the Provider interface for generative intelligence
// backends.
//
// An intelligence provider wraps a remote generative-AI API (Gemini, OpenAI,
// or any any-llm-go backend) and exposes a uniform interface for the CityDNA
// feature layer to request structured JSON, free text, image understanding,
// audio transcription, and decorative image generation without coupling to
// any specific SDK.
//
// Implementations must be safe for concurrent use and must map transport
// failures into [*Error] so that the resilience layer can classify them in
// one place instead of sniffing error strings per call site.
package intel

import (
	"context"
	"errors"
	"fmt"
)

// Part is one ordered element of a request payload: either text or inline
// binary data (an image or an audio clip) with its MIME type.
type Part struct {
	// Text content. Empty when the part carries inline data.
	Text string

	// MIMEType of the inline data (e.g., "image/jpeg", "audio/wav").
	MIMEType string

	// Data is the raw inline payload. Implementations base64-encode it as
	// required by their wire format.
	Data []byte
}

// TextPart builds a text-only part.
func TextPart(text string) Part { return Part{Text: text} }

// DataPart builds an inline-data part.
func DataPart(mimeType string, data []byte) Part {
	return Part{MIMEType: mimeType, Data: data}
}

// Request carries everything a provider needs to produce a response.
type Request struct {
	// SystemInstruction is the high-priority instruction injected before the
	// request parts. May be empty.
	SystemInstruction string

	// Parts is the ordered request payload. At least one part is required.
	Parts []Part

	// JSONOutput requests a JSON response body (the provider's structured
	// output mode where supported; providers without a native mode prompt
	// for JSON instead).
	JSONOutput bool

	// WebSearch requests search grounding where the provider supports it.
	// Providers without grounding ignore this flag.
	WebSearch bool

	// ImageOutput requests an inline image instead of text. Only providers
	// with SupportsImageGen honour this.
	ImageOutput bool

	// Model overrides the provider's default model for this request.
	// Empty means use the provider default.
	Model string
}

// GroundingRef is one cited source attached to a grounded response.
type GroundingRef struct {
	URI   string
	Title string
	Maps  bool
}

// Response is the provider's answer.
type Response struct {
	// Text is the textual response content. Empty for image-only responses.
	Text string

	// ImageData holds inline image bytes when ImageOutput was requested and
	// the provider produced one.
	ImageData []byte

	// ImageMIMEType is the MIME type of ImageData (e.g., "image/png").
	ImageMIMEType string

	// Grounding lists the sources the response was grounded on, when
	// WebSearch was requested and the provider supports grounding.
	Grounding []GroundingRef
}

// Capabilities describes static properties of a provider. The values are
// assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// SupportsVision indicates the provider accepts inline image parts.
	SupportsVision bool

	// SupportsAudio indicates the provider accepts inline audio parts.
	SupportsAudio bool

	// SupportsImageGen indicates the provider can return inline images.
	SupportsImageGen bool

	// SupportsSearch indicates the provider can ground responses on web search.
	SupportsSearch bool
}

// Provider is the abstraction over any generative intelligence backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly.
type Provider interface {
	// Generate sends req to the backend and waits for the full response.
	// Transport and API failures are returned as [*Error]; requests the
	// provider cannot serve (e.g., an inline image part on a text-only
	// backend) fail with [ErrUnsupported].
	Generate(ctx context.Context, req Request) (*Response, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}

// ErrUnsupported is returned when a request needs a capability the provider
// does not have. It is never retryable.
var ErrUnsupported = errors.New("intel: request not supported by provider")

// Error is a structured provider failure. It carries the transport status so
// the resilience layer can decide retryability without inspecting message
// text. StatusCode is the HTTP status when the failure arrived over HTTP;
// Status is the API-level status string (e.g., "UNAVAILABLE",
// "RESOURCE_EXHAUSTED") when one was present in the payload.
type Error struct {
	StatusCode int
	Status     string
	Message    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("intel: %s (%d): %s", e.Status, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("intel: status %d: %s", e.StatusCode, e.Message)
}
