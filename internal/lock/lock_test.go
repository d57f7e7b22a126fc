package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_ExclusiveUntilReleased(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "engine:run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, "engine:run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()

	_, ok, err = l.TryLock(ctx, "engine:run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocal_KeysAreIndependent(t *testing.T) {
	l := NewLocal()

	_, ok1, _ := l.TryLock(context.Background(), "a", time.Minute)
	_, ok2, _ := l.TryLock(context.Background(), "b", time.Minute)

	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestLocal_ExpiredLockCanBeRetaken(t *testing.T) {
	l := NewLocal()
	clock := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return clock }

	staleRelease, ok, _ := l.TryLock(context.Background(), "k", time.Minute)
	require.True(t, ok)

	clock = clock.Add(2 * time.Minute)
	_, ok, _ = l.TryLock(context.Background(), "k", time.Minute)
	require.True(t, ok)

	// The expired holder must not release the new holder's lock.
	staleRelease()
	_, ok, _ = l.TryLock(context.Background(), "k", time.Minute)
	assert.False(t, ok)
}
