package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	err := New(TypeValidation, "bad input")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "bad input", err.Message)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Empty(t, err.Details)
	assert.Nil(t, err.Cause)
	assert.Equal(t, "validation: bad input", err.Error())
}

func TestWithDetails(t *testing.T) {
	err := New(TypeConflict, "duplicate key").WithDetails("already scheduled")

	assert.Equal(t, "conflict: duplicate key (already scheduled)", err.Error())
}

func TestWrap(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrapf(cause, TypeTransient, "dial %s failed", "broker:5672")

	assert.Equal(t, TypeTransient, wrapped.Type)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestStatusCodeMapping(t *testing.T) {
	cases := map[Type]int{
		TypeValidation: http.StatusBadRequest,
		TypeNotFound:   http.StatusNotFound,
		TypeConflict:   http.StatusConflict,
		TypeTransient:  http.StatusServiceUnavailable,
		TypePermanent:  http.StatusUnprocessableEntity,
		TypeConfig:     http.StatusInternalServerError,
		TypeInternal:   http.StatusInternalServerError,
	}

	for typ, code := range cases {
		assert.Equal(t, code, New(typ, "x").StatusCode, "type %s", typ)
	}
}

func TestIsType(t *testing.T) {
	err := New(TypeConflict, "duplicate")

	assert.True(t, IsType(err, TypeConflict))
	assert.False(t, IsType(err, TypeTransient))
	assert.False(t, IsType(errors.New("plain"), TypeConflict))
}
