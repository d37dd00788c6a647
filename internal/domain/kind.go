package domain

import (
	"context"
	"errors"
	"net"
)

// Kind classifies an error for retry handling. Retry decisions switch on
// the kind, never on message substrings.
type Kind int

const (
	// KindPermanent errors will not succeed on retry (bad input, missing
	// auth, unknown resource). Surface once and stop.
	KindPermanent Kind = iota
	// KindTransient errors are worth retrying with backoff (timeouts,
	// connectivity, 5xx upstreams).
	KindTransient
	// KindPolicy outcomes are rejections by design (quota exhausted,
	// anonymous limit reached). They map to prompts, not errors, and
	// retrying without a state change is pointless.
	KindPolicy
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPolicy:
		return "policy"
	default:
		return "permanent"
	}
}

// KindOf classifies err. Unwrapped network timeouts and cancelled contexts
// count as transient even when no *Error is present.
func KindOf(err error) Kind {
	if err == nil {
		return KindPermanent
	}

	switch ErrorCodeRaw(err) {
	case EUNAVAILABLE:
		return KindTransient
	case EQUOTA, ERATELIMIT:
		return KindPolicy
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	return KindPermanent
}

// ErrorCodeRaw is ErrorCode without the EINTERNAL fallback, so callers can
// distinguish "no code attached" from a genuine internal error.
func ErrorCodeRaw(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
