package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/orchestra/agent"
	"github.com/BaSui01/orchestra/agent/collaboration"
	"github.com/BaSui01/orchestra/agent/discovery"
	"github.com/BaSui01/orchestra/types"
	"github.com/BaSui01/orchestra/workflow"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, []int{1, 2, 3})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, "[1,2,3]", w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
		wantCode   string
	}{
		{"agent not found", types.NewError(types.ErrAgentNotFound, "no such agent"), http.StatusNotFound, "AGENT_NOT_FOUND"},
		{"breaker open", types.NewError(types.ErrBreakerOpen, "open").WithRetryable(true), http.StatusServiceUnavailable, "BREAKER_OPEN"},
		{"explicit status", types.NewError(types.ErrInvalidRequest, "bad").WithHTTPStatus(http.StatusTeapot), http.StatusTeapot, "INVALID_REQUEST"},
		{"not running", types.NewError(types.ErrNotRunning, "done"), http.StatusConflict, "NOT_RUNNING"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Equal(t, tt.err.Retryable, resp.Error.Retryable)
		})
	}
}

func TestWriteError_IncludesCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, types.NewError(types.ErrInvalidDefinition, "bad dsl").WithCause(errors.New("line 3")), nil)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "line 3", resp.Error.Details)
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		err       error
		code      types.ErrorCode
		retryable bool
	}{
		{fmt.Errorf("%w: x", discovery.ErrAgentNotFound), types.ErrAgentNotFound, false},
		{discovery.ErrAgentExists, types.ErrInvalidRequest, false},
		{agent.ErrBreakerOpen, types.ErrBreakerOpen, true},
		{fmt.Errorf("%w after 1s", agent.ErrTimeout), types.ErrTimeout, true},
		{fmt.Errorf("%w: id", workflow.ErrExecutionNotFound), types.ErrExecutionNotFound, false},
		{workflow.ErrNotRunning, types.ErrNotRunning, false},
		{fmt.Errorf("%w: id", workflow.ErrStillRunning), types.ErrStillRunning, false},
		{workflow.ErrNoStore, types.ErrNotConfigured, false},
		{workflow.ErrInvalidDefinition, types.ErrInvalidDefinition, false},
		{collaboration.ErrBusStopped, types.ErrServiceUnavailable, true},
		{errors.New("something else"), types.ErrInternalError, false},
		{types.NewError(types.ErrCancelled, "stop"), types.ErrCancelled, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got := ToAPIError(tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Task string `json:"task"`
	}

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"task":"go"}`))
		var p payload
		require.NoError(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, "go", p.Task)
	})

	t.Run("unknown field", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"task":"go","extra":1}`))
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		w := httptest.NewRecorder()
		body := `{"task":"` + strings.Repeat("x", maxBodyBytes) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
		var p payload
		require.Error(t, DecodeJSONBody(w, r, &p, nil))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestValidateContentType(t *testing.T) {
	for ct, ok := range map[string]bool{
		"application/json":                true,
		"application/json; charset=utf-8": true,
		"text/plain":                      false,
		"":                                false,
	} {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.Header.Set("Content-Type", ct)
		assert.Equal(t, ok, ValidateContentType(w, r, nil), ct)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError)
	_, _ = rw.Write([]byte("hello"))

	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.EqualValues(t, 5, rw.BytesWritten)
	assert.Same(t, http.ResponseWriter(rec), rw.Unwrap())
}
