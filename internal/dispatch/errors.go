package dispatch

import "errors"

// Pre-dispatch validation failures. These abort the whole exchange before
// any upstream call is made.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Reason classifies why a source reached a terminal state other than
// natural completion. Per-source failures never abort sibling sources.
type Reason string

const (
	ReasonConnectTimeout    Reason = "connect_timeout"
	ReasonInactivityTimeout Reason = "inactivity_timeout"
	ReasonAggregateTimeout  Reason = "aggregate_timeout"
	ReasonUpstreamError     Reason = "upstream_error"
	ReasonCancelled         Reason = "cancelled"
)

// Notice returns the human-readable text surfaced in the affected chat
// window. Failures render as readable text, never as a silent drop.
func (r Reason) Notice() string {
	switch r {
	case ReasonConnectTimeout:
		return "\n[no response: the model did not answer in time]"
	case ReasonInactivityTimeout:
		return "\n[response truncated: the model stopped sending data]"
	case ReasonAggregateTimeout:
		return "\n[response truncated: session time limit reached]"
	case ReasonUpstreamError:
		return "\n[error: the model reported a failure]"
	default:
		return "\n[response interrupted]"
	}
}
