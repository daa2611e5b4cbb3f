package types

import "errors"

// Failure taxonomy shared by the resolution pipeline. Errors are wrapped with
// fmt.Errorf("...: %w", Err...) and inspected with errors.Is.
var (
	// ErrNotFound means a channel, credential or audio-only entry is absent.
	ErrNotFound = errors.New("not found")
	// ErrNetwork means an upstream request failed or timed out; callers may retry later.
	ErrNetwork = errors.New("network error")
	// ErrParse means an upstream payload no longer has the expected shape.
	ErrParse = errors.New("parse error")
	// ErrStale means a cached credential exists but is inside the safety margin.
	ErrStale = errors.New("stale credential")
)

// IsRetryable reports whether err is a transient failure worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

// Reason maps an error onto a short label used for metrics and log lines.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrStale):
		return "stale"
	default:
		return "other"
	}
}
