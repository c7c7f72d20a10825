package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{NotFound("appointment", nil), http.StatusNotFound},
		{BadRequest("bad date", nil), http.StatusBadRequest},
		{Unauthorized(nil), http.StatusUnauthorized},
		{Forbidden("not yours"), http.StatusForbidden},
		{Conflict("taken", nil), http.StatusConflict},
		{Internal(stderrors.New("boom")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.err.HTTPStatus(), tt.err.Message)
	}
}

func TestAs_UnwrapsChain(t *testing.T) {
	cause := stderrors.New("duplicate key")
	wrapped := fmt.Errorf("create appointment: %w", Conflict("slot taken", cause))

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrConflict, appErr.Code)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "slot taken: duplicate key", appErr.Error())

	_, ok = As(cause)
	assert.False(t, ok)
}
