package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "balregistry/pkg/domain-errors"
)

// TestParseBaseLocaleID_Invariants validates the parsing invariant:
// base locale IDs must be valid, non-empty, non-nil UUIDs.
func TestParseBaseLocaleID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseBaseLocaleID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseBaseLocaleID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseBaseLocaleID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseBaseLocaleID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, BaseLocaleID(validUUID), id)
	})
}

func TestParseCommuneCode(t *testing.T) {
	valid := []string{"27115", "75056", "2A004", "2b033", " 97411 "}
	for _, code := range valid {
		t.Run("accepts "+code, func(t *testing.T) {
			_, err := ParseCommuneCode(code)
			require.NoError(t, err)
		})
	}

	invalid := []string{"", "1234", "123456", "ABCDE", "2C004", "27 15"}
	for _, code := range invalid {
		t.Run("rejects "+code, func(t *testing.T) {
			_, err := ParseCommuneCode(code)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}
