package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedKind(t *testing.T) {
	err := New(KindRetryable, "liveclient.execute", "connection reset")
	assert.True(t, Is(err, KindRetryable))
	assert.False(t, Is(err, KindAuth))
}

func TestIs_FalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("boom"), KindData))
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindTime, "op", nil))
}

func TestError_UnwrapsUnderlying(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(KindExecution, "broker.submit", cause)
	assert.ErrorIs(t, err, cause)
}
