package syncstate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Events(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	t.Run("unseen events have no stage", func(t *testing.T) {
		stage, err := store.EventStage(ctx, "evt-1")
		require.NoError(t, err)
		assert.Equal(t, "", stage)
	})

	t.Run("stages advance in place", func(t *testing.T) {
		require.NoError(t, store.SetEventStage(ctx, "evt-1", StageLedgered))

		stage, err := store.EventStage(ctx, "evt-1")
		require.NoError(t, err)
		assert.Equal(t, StageLedgered, stage)

		require.NoError(t, store.SetEventStage(ctx, "evt-1", StageDone))

		stage, err = store.EventStage(ctx, "evt-1")
		require.NoError(t, err)
		assert.Equal(t, StageDone, stage)
	})

	t.Run("stages are tracked per event", func(t *testing.T) {
		stage, err := store.EventStage(ctx, "evt-2")
		require.NoError(t, err)
		assert.Equal(t, "", stage)
	})
}

func TestStore_Users(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	t.Run("unknown emails yield ErrUserNotFound", func(t *testing.T) {
		_, err := store.GetUser(ctx, "nobody@example.com")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrUserNotFound))
	})

	t.Run("records roundtrip", func(t *testing.T) {
		record := UserRecord{
			PlatformID: "user-123",
			Plan:       "pro",
			LastSynced: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, store.PutUser(ctx, "jo@example.com", record))

		loaded, err := store.GetUser(ctx, "jo@example.com")
		require.NoError(t, err)
		assert.Equal(t, record, loaded)
	})

	t.Run("puts overwrite older state", func(t *testing.T) {
		require.NoError(t, store.PutUser(ctx, "jo@example.com", UserRecord{PlatformID: "user-123", Plan: "free"}))

		loaded, err := store.GetUser(ctx, "jo@example.com")
		require.NoError(t, err)
		assert.Equal(t, "free", loaded.Plan)
	})
}
