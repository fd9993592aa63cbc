package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrAgentFailed, "agent failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	if GetErrorCode(err) != ErrAgentFailed {
		t.Fatalf("expected code %s, got %s", ErrAgentFailed, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestGetErrorCode_Wrapped(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("lookup: %w", NewError(ErrAgentNotFound, "ghost"))
	if GetErrorCode(wrapped) != ErrAgentNotFound {
		t.Fatalf("expected wrapped code to be found")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("expected empty code for plain errors")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[ErrorCode]int{
		ErrAgentNotFound:     http.StatusNotFound,
		ErrInvalidDefinition: http.StatusBadRequest,
		ErrNotRunning:        http.StatusConflict,
		ErrStillRunning:      http.StatusConflict,
		ErrMessageNotFound:   http.StatusNotFound,
		ErrNotConfigured:     http.StatusNotImplemented,
		ErrBreakerOpen:       http.StatusServiceUnavailable,
		ErrTimeout:           http.StatusGatewayTimeout,
		ErrInternalError:     http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := StatusFor(code); got != want {
			t.Fatalf("StatusFor(%s) = %d, want %d", code, got, want)
		}
	}
}
