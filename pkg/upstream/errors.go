package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies an upstream call outcome.
type ErrorKind string

const (
	// KindNotFound means the file id or location does not exist upstream.
	KindNotFound ErrorKind = "not_found"

	// KindForbidden means the upstream rejected the bearer credential.
	// Fatal misconfiguration: surfaced, never retried.
	KindForbidden ErrorKind = "forbidden"

	// KindRateLimited is the upstream 429 throttle signal. It feeds the
	// adaptive rate state but the failed request is never auto-retried.
	KindRateLimited ErrorKind = "rate_limited"

	// KindAPIError is any other classified upstream error response.
	KindAPIError ErrorKind = "api_error"

	// KindTimeout is a client-side deadline. Does not count as an
	// upstream failure for rate-state purposes.
	KindTimeout ErrorKind = "timeout"

	// KindNetwork is a transient transport failure.
	KindNetwork ErrorKind = "network_error"

	// KindFileTooLarge means the payload exceeds the configured maximum,
	// rejected before a full download when the size is declared.
	KindFileTooLarge ErrorKind = "file_too_large"
)

// Error is a classified upstream API error carrying the original status
// and description.
type Error struct {
	Kind        ErrorKind
	StatusCode  int
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s (status %d): %s: %v", e.Kind, e.StatusCode, e.Description, e.Err)
	}
	return fmt.Sprintf("upstream %s (status %d): %s", e.Kind, e.StatusCode, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err, or empty for non-upstream
// errors.
func KindOf(err error) ErrorKind {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return ""
}

// IsRateLimited reports whether err is the upstream throttle signal.
func IsRateLimited(err error) bool {
	return KindOf(err) == KindRateLimited
}

// classifyTransportError maps a transport-level failure to Timeout or
// NetworkError.
func classifyTransportError(ctx context.Context, err error) *Error {
	kind := KindNetwork
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &Error{Kind: kind, Description: "transport failure", Err: err}
}

// classifyStatus maps an HTTP status plus description to an Error.
func classifyStatus(status int, description string) *Error {
	kind := KindAPIError
	switch status {
	case 404:
		kind = KindNotFound
	case 401, 403:
		kind = KindForbidden
	case 429:
		kind = KindRateLimited
	}
	return &Error{Kind: kind, StatusCode: status, Description: description}
}
