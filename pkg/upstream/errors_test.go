package upstream

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{status: 404, want: KindNotFound},
		{status: 401, want: KindForbidden},
		{status: 403, want: KindForbidden},
		{status: 429, want: KindRateLimited},
		{status: 500, want: KindAPIError},
		{status: 400, want: KindAPIError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status, "desc"); got.Kind != tt.want {
				t.Errorf("classifyStatus(%d) kind = %q, want %q", tt.status, got.Kind, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	err := &Error{Kind: KindNotFound, StatusCode: 404}
	wrapped := fmt.Errorf("service: resolve: %w", err)

	if KindOf(wrapped) != KindNotFound {
		t.Errorf("KindOf(wrapped) = %q, want %q", KindOf(wrapped), KindNotFound)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("expected empty kind for plain error")
	}
}

func TestIsRateLimited(t *testing.T) {
	if !IsRateLimited(&Error{Kind: KindRateLimited}) {
		t.Error("expected true for rate-limited error")
	}
	if IsRateLimited(&Error{Kind: KindNotFound}) {
		t.Error("expected false for other kinds")
	}
	if IsRateLimited(nil) {
		t.Error("expected false for nil")
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &Error{Kind: KindNetwork, Description: "transport failure", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}
}
