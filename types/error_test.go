package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	err := NewError(ErrUnknownRun, "run not found")
	assert.Equal(t, "[UNKNOWN_RUN] run not found", err.Error())

	wrapped := Errorf(ErrGenerationFailure, "stage %s", "draft").WithCause(errors.New("boom"))
	assert.Equal(t, "[GENERATION_FAILURE] stage draft: boom", wrapped.Error())
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := NewError(ErrInternalError, "store unavailable").WithCause(cause)

	require.ErrorIs(t, err, cause)
	wrapped := fmt.Errorf("outer: %w", err)
	var typed *Error
	require.ErrorAs(t, wrapped, &typed)
	assert.Equal(t, ErrInternalError, typed.Code)
}

func TestErrorBuilders(t *testing.T) {
	t.Parallel()

	err := NewError(ErrRunBusy, "busy").WithHTTPStatus(409).WithRetryable(true)
	assert.Equal(t, 409, err.HTTPStatus)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetErrorCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ErrConflict, GetErrorCode(NewError(ErrConflict, "clash")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(nil))
}
