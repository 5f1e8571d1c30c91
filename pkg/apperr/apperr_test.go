package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOfSurvivesWrapping(t *testing.T) {
	base := NotFound("workflow", "abc")
	wrapped := fmt.Errorf("handling request: %w", base)

	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
	assert.Equal(t, "workflow 'abc' not found", MessageOf(wrapped))
}

func TestCodeOfUnknownErrorIsInternal(t *testing.T) {
	err := errors.New("pq: connection refused")
	assert.Equal(t, CodeInternal, CodeOf(err))
	assert.Equal(t, "pq: connection refused", MessageOf(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("record not found")
	err := Wrap(cause, CodeInternal, "failed to load rule")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to load rule")
	assert.Contains(t, err.Error(), "record not found")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", InvalidInput("amount", "invalid decimal value"), http.StatusBadRequest},
		{"not found", NotFound("rule", "x"), http.StatusNotFound},
		{"invalid state", InvalidState("workflow is already approved"), http.StatusConflict},
		{"conflict", New(CodeConflict, "rule already exists"), http.StatusConflict},
		{"unauthorized", New(CodeUnauthorized, "invalid credentials"), http.StatusUnauthorized},
		{"forbidden", New(CodeForbidden, "not an approver"), http.StatusForbidden},
		{"internal", Newf(CodeInternal, "db error: %s", "timeout"), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
