package tx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrom(t *testing.T) {
	_, ok := From(context.Background())
	assert.False(t, ok)

	assert.Equal(t, context.Background(), WithTx(context.Background(), nil))

	tx := &sql.Tx{}
	got, ok := From(WithTx(context.Background(), tx))
	assert.True(t, ok)
	assert.Same(t, tx, got)
}

func TestExecutor(t *testing.T) {
	db := &sql.DB{}
	assert.Same(t, db, Executor(context.Background(), db))

	tx := &sql.Tx{}
	assert.Same(t, tx, Executor(WithTx(context.Background(), tx), db))
}

func TestMemoryRunner(t *testing.T) {
	failed := errors.New("downstream failed")

	t.Run("failed unit replays undo steps newest first", func(t *testing.T) {
		var trail []string
		err := NewMemory().RunInTx(context.Background(), func(ctx context.Context) error {
			OnRollback(ctx, func() { trail = append(trail, "first") })
			OnRollback(ctx, func() { trail = append(trail, "second") })
			AfterCommit(ctx, func(context.Context) { trail = append(trail, "committed") })
			return failed
		})
		assert.ErrorIs(t, err, failed)
		assert.Equal(t, []string{"second", "first"}, trail)
	})

	t.Run("committed unit runs commit hooks and discards undo steps", func(t *testing.T) {
		var trail []string
		err := NewMemory().RunInTx(context.Background(), func(ctx context.Context) error {
			OnRollback(ctx, func() { trail = append(trail, "undone") })
			AfterCommit(ctx, func(ctx context.Context) {
				assert.False(t, InUnit(ctx), "hooks run outside the finished unit")
				trail = append(trail, "a")
			})
			AfterCommit(ctx, func(context.Context) { trail = append(trail, "b") })
			assert.Empty(t, trail, "hooks wait for the commit")
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, trail)
	})

	t.Run("nested unit joins the outer one", func(t *testing.T) {
		runner := NewMemory()
		undone := 0
		err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
			OnRollback(ctx, func() { undone++ })
			return runner.RunInTx(ctx, func(ctx context.Context) error {
				OnRollback(ctx, func() { undone++ })
				return failed
			})
		})
		assert.ErrorIs(t, err, failed)
		assert.Equal(t, 2, undone)
	})

	t.Run("outside a unit hooks apply immediately", func(t *testing.T) {
		ran := false
		AfterCommit(context.Background(), func(context.Context) { ran = true })
		assert.True(t, ran)
		assert.NotPanics(t, func() { OnRollback(context.Background(), func() {}) })
	})
}
