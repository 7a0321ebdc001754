package lookup

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. The HTTP layer maps kinds to status
// codes; nothing else shapes user-visible errors.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidArgument
	KindUnauthenticated
	KindNotFound
	KindPermissionDenied
	KindKeysMissing
	KindConfiguration
	KindRateLimited
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindKeysMissing:
		return "keys_missing"
	case KindConfiguration:
		return "configuration_error"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal"
	}
}

// Coarse upstream failure reasons shown to callers.
const (
	ReasonInvalidCredentials = "invalid credentials"
	ReasonCommunication      = "communication error"
)

// Error is a classified pipeline failure. Message is safe to show; Err is
// for logs only.
type Error struct {
	Kind    Kind
	Message string
	// Reason is a short caller-facing detail, e.g. the coarse upstream cause.
	Reason string
	// RetryAfter is the wait in whole seconds for KindRateLimited.
	RetryAfter int
	// UpstreamStatus is the last upstream HTTP status, 0 if none.
	UpstreamStatus int
	Err            error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
