package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		show      bool
	}{
		{CodeValidation, http.StatusBadRequest, false, true},
		{CodeUnauthorized, http.StatusUnauthorized, false, true},
		{CodeForbidden, http.StatusForbidden, false, true},
		{CodeNotFound, http.StatusNotFound, false, true},
		{CodeConflict, http.StatusConflict, false, true},
		{CodeIdempotency, http.StatusConflict, false, true},
		{CodeRateLimit, http.StatusTooManyRequests, true, true},
		{CodeInternal, http.StatusInternalServerError, true, false},
		{CodeDependency, http.StatusServiceUnavailable, true, false},
		{CodeConfiguration, http.StatusInternalServerError, false, false},
	}
	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		assert.Equal(t, tt.status, meta.HTTPStatus, tt.code)
		assert.Equal(t, tt.retryable, meta.Retryable, tt.code)
		assert.Equal(t, tt.show, meta.ShowMessage, tt.code)
		assert.NotEmpty(t, meta.PublicMessage, tt.code)
	}

	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing number")
	assert.Equal(t, CodeValidation, base.Code())
	assert.Equal(t, "missing number", base.Message())
	assert.Nil(t, base.Details())
	assert.Equal(t, "VALIDATION_ERROR: missing number", base.Error())

	base.WithDetails(map[string]any{"field": "number"})
	assert.NotNil(t, base.Details())

	cause := stdErrors.New("connection refused")
	wrapped := Wrap(CodeDependency, cause, "claim number")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "DEPENDENCY_ERROR: claim number: connection refused", wrapped.Error())

	var nilErr *Error
	assert.Equal(t, CodeInternal, nilErr.Code())
	assert.Nil(t, nilErr.WithDetails("x"))
}

func TestAsAndIsCodeFollowWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeConflict, "taken"))
	got := As(err)
	require.NotNil(t, got)
	assert.Equal(t, CodeConflict, got.Code())
	assert.True(t, IsCode(err, CodeConflict))
	assert.False(t, IsCode(err, CodeNotFound))
	assert.Nil(t, As(nil))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.True(t, Retryable(stdErrors.New("untyped")))
	assert.True(t, Retryable(fmt.Errorf("finalize 0007: %w", Wrap(CodeDependency, stdErrors.New("timeout"), "slot store unavailable"))))
	assert.False(t, Retryable(New(CodeConflict, "That number is not available. Please try another.")))
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "Number not found in table.", PublicMessage(New(CodeNotFound, "Number not found in table.")))
	assert.Equal(t, "not available", PublicMessage(New(CodeConflict, "")))
	assert.Equal(t, "dependency unavailable", PublicMessage(Wrap(CodeDependency, stdErrors.New("dial tcp"), "slot store unavailable")))
	assert.Equal(t, "internal server error", PublicMessage(stdErrors.New("boom")))
}
