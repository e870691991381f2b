package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("direct error carries its code", func(t *testing.T) {
		err := New(CodeNotFound, "base locale not found")
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("code survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("reconcile: %w", New(CodePreconditionFailed, "habilitation expired"))
		assert.True(t, HasCode(err, CodePreconditionFailed))
	})

	t.Run("wrapped cause stays reachable", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(cause, CodeUnavailable, "deposit service unreachable")
		assert.True(t, errors.Is(err, cause))
		assert.True(t, HasCode(err, CodeUnavailable))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
	})
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, CodeConflict, CodeOf(New(CodeConflict, "already published")))
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestErrorsIsByValue(t *testing.T) {
	sentinel := New(CodePreconditionFailed, "empty dataset")
	wrapped := fmt.Errorf("base locale 42: %w", sentinel)
	assert.True(t, errors.Is(wrapped, sentinel))

	other := New(CodePreconditionFailed, "no habilitation")
	assert.False(t, errors.Is(wrapped, other))
}
