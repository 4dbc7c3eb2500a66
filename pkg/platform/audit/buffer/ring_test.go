package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	audit "trustcore/pkg/platform/audit"
)

func TestRingBuffer(t *testing.T) {
	t.Run("dequeues in insertion order", func(t *testing.T) {
		b := NewRingBuffer(4)
		b.Enqueue(audit.Event{EntityID: "a"})
		b.Enqueue(audit.Event{EntityID: "b"})

		batch := b.DequeueBatch(10)
		assert.Len(t, batch, 2)
		assert.Equal(t, "a", batch[0].EntityID)
		assert.Equal(t, "b", batch[1].EntityID)
		assert.Zero(t, b.Len())
	})

	t.Run("evicts oldest when full", func(t *testing.T) {
		b := NewRingBuffer(2)
		b.Enqueue(audit.Event{EntityID: "a"})
		b.Enqueue(audit.Event{EntityID: "b"})
		b.Enqueue(audit.Event{EntityID: "c"})

		assert.Equal(t, int64(1), b.Dropped())
		batch := b.DequeueBatch(2)
		assert.Equal(t, "b", batch[0].EntityID)
		assert.Equal(t, "c", batch[1].EntityID)
	})

	t.Run("empty buffer returns nil batch", func(t *testing.T) {
		assert.Nil(t, NewRingBuffer(1).DequeueBatch(5))
	})
}
