package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "trustcore/pkg/platform/audit"
)

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	require.NoError(t, store.Append(ctx, audit.Event{Type: audit.EventStaked, EntityID: "alice"}))
	require.NoError(t, store.Append(ctx, audit.Event{Type: audit.EventAttestorRegistered, EntityID: "bob"}))
	require.NoError(t, store.Append(ctx, audit.Event{Type: audit.EventUnstaked, EntityID: "alice"}))

	t.Run("lists by entity in order", func(t *testing.T) {
		events, err := store.ListByEntity(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, audit.EventStaked, events[0].Type)
		assert.Equal(t, audit.EventUnstaked, events[1].Type)
	})

	t.Run("lists recent newest first", func(t *testing.T) {
		events, err := store.ListRecent(ctx, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, audit.EventUnstaked, events[0].Type)
		assert.Equal(t, audit.EventAttestorRegistered, events[1].Type)
	})

	t.Run("lists by type", func(t *testing.T) {
		events, err := store.ListByType(ctx, audit.EventAttestorRegistered)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "bob", events[0].EntityID)
	})

	t.Run("clear empties the store", func(t *testing.T) {
		store.Clear()
		events, err := store.ListRecent(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
