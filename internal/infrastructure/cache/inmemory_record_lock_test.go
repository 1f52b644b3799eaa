package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRecordLock_Acquire(t *testing.T) {
	t.Run("acquires a free key", func(t *testing.T) {
		lock := NewInMemoryRecordLock()

		release, acquired, err := lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
		release()
	})

	t.Run("denies a held key", func(t *testing.T) {
		lock := NewInMemoryRecordLock()

		_, acquired, err := lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)

		_, acquired, err = lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired)
	})

	t.Run("release frees the key", func(t *testing.T) {
		lock := NewInMemoryRecordLock()

		release, acquired, err := lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)
		release()
		// Releasing twice is harmless.
		release()

		_, acquired, err = lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("independent keys do not contend", func(t *testing.T) {
		lock := NewInMemoryRecordLock()

		_, acquired, err := lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)

		_, acquired, err = lock.Acquire(context.Background(), "r-2", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("an expired lock counts as free", func(t *testing.T) {
		lock := NewInMemoryRecordLock()
		now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
		lock.clock = func() time.Time { return now }

		_, acquired, err := lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)

		now = now.Add(2 * time.Minute)
		_, acquired, err = lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("a stale release does not free a successor's lock", func(t *testing.T) {
		lock := NewInMemoryRecordLock()
		now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
		lock.clock = func() time.Time { return now }

		staleRelease, acquired, err := lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)

		// The first holder's TTL lapses and another worker takes over.
		now = now.Add(2 * time.Minute)
		_, acquired, err = lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		require.True(t, acquired)

		// The lapsed holder finally releases; the current holder keeps
		// the key.
		staleRelease()
		_, acquired, err = lock.Acquire(context.Background(), "r-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, acquired)
	})
}
