package resilience

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lokalos/citydna/pkg/intel"
)

// Kind is the retryability classification of a remote-call failure.
type Kind int

const (
	// NonRetryable failures indicate the request itself is at fault (bad
	// input, auth, unsupported capability) or the caller gave up. Retrying
	// would reproduce the same failure.
	NonRetryable Kind = iota

	// Retryable failures are transient capacity conditions: quota exhaustion,
	// model overload, or service unavailability. A later attempt may succeed.
	Retryable
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	if k == Retryable {
		return "retryable"
	}
	return "non-retryable"
}

// capacitySignals are message fragments that indicate transient overload in
// errors that carry no structured status. Structured [*intel.Error] values are
// classified by status code instead; this list only covers opaque errors from
// SDKs that flatten the upstream response into a string.
var capacitySignals = []string{
	"resource_exhausted",
	"unavailable",
	"high demand",
	"overloaded",
	"rate limit",
	"429",
	"503",
}

// Classify decides whether err is worth retrying.
//
// Context cancellation and deadline expiry are never retryable: the caller has
// already given up. Structured provider errors are classified by HTTP status
// code (429, 503) or API status string (RESOURCE_EXHAUSTED, UNAVAILABLE).
// Everything else falls back to scanning the message for known capacity
// signals, which catches errors from backends that only surface text.
func Classify(err error) Kind {
	if err == nil {
		return NonRetryable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NonRetryable
	}
	if errors.Is(err, intel.ErrUnsupported) {
		return NonRetryable
	}

	var ie *intel.Error
	if errors.As(err, &ie) {
		switch ie.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return Retryable
		}
		switch ie.Status {
		case "RESOURCE_EXHAUSTED", "UNAVAILABLE":
			return Retryable
		}
		return NonRetryable
	}

	msg := strings.ToLower(err.Error())
	for _, signal := range capacitySignals {
		if strings.Contains(msg, signal) {
			return Retryable
		}
	}
	return NonRetryable
}
