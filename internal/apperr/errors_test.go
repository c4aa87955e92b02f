package apperr

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKinds(t *testing.T) {
	t.Run("validation keeps message", func(t *testing.T) {
		err := Validation("bad field %q", "qty")
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), `bad field "qty"`)
	})

	t.Run("persistence keeps cause", func(t *testing.T) {
		err := Persistence("load items", sql.ErrConnDone)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.Nil(t, Persistence("noop", nil))
	})

	t.Run("only conflicts are retryable", func(t *testing.T) {
		assert.True(t, Retryable(fmt.Errorf("commit: %w", ErrConflict)))
		assert.False(t, Retryable(ErrOversell))
		assert.False(t, Retryable(Auth("expired")))
		assert.False(t, Retryable(errors.New("boom")))
	})
}
