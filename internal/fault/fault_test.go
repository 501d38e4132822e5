package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindMatching(t *testing.T) {
	err := Invalid("batch size %d out of range", -1)
	assert.True(t, errors.Is(err, &Error{Kind: KindInvalidArgument}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound}))
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindTransient, cause, "embedding provider unreachable")
	require.NotNil(t, err)
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsRetryable(err))

	// Wrapping again through fmt keeps the kind visible.
	outer := fmt.Errorf("embed batch: %w", err)
	assert.Equal(t, KindTransient, KindOf(outer))
}

func TestWrapNil(t *testing.T) {
	var err error = Wrap(KindTransient, nil, "no-op")
	// Typed nil must not leak as a non-nil error value through callers that
	// return *Error directly; Wrap returns nil pointer which callers must
	// convert via the helper pattern below.
	fe, _ := err.(*Error)
	assert.Nil(t, fe)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(Invalid("bad")))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("missing")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(New(KindConflict, "busy")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(New(KindFatal, "broken")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("plain")))
}

func TestUnclassifiedIsNotRetryable(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("anything")))
	assert.False(t, IsRetryable(nil))
}
