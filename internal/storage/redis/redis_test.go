package redis

import (
	"context"
	"testing"
	"time"

	"price_service/internal/models"
	"price_service/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) (*RedisRepo, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	repo, err := New(context.Background(), mr.Addr(), 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	return repo, mr
}

func TestCategoriesCache(t *testing.T) {
	t.Parallel()

	repo, mr := newRepo(t)
	ctx := context.Background()

	_, err := repo.Categories(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	want := []models.Category{
		{ID: 1, Name: "Serums", ProductCount: 12},
		{ID: 2, Name: "Sunscreen", Description: "SPF", ProductCount: 4},
	}
	require.NoError(t, repo.SaveCategories(ctx, want))

	got, err := repo.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	mr.FastForward(2 * time.Minute)

	_, err = repo.Categories(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)

	require.NoError(t, repo.SaveCategories(ctx, want))
	require.NoError(t, repo.InvalidateCategories(ctx))

	_, err = repo.Categories(ctx)
	assert.ErrorIs(t, err, storage.ErrCacheMiss)
}

func TestAcquire(t *testing.T) {
	t.Parallel()

	repo, mr := newRepo(t)
	ctx := context.Background()

	release, ok, err := repo.Acquire(ctx, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = repo.Acquire(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, mr.Exists("lock"))

	_, ok, err = repo.Acquire(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAcquire_staleReleaseKeepsNewOwner(t *testing.T) {
	t.Parallel()

	repo, mr := newRepo(t)
	ctx := context.Background()

	release, ok, err := repo.Acquire(ctx, "lock", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = repo.Acquire(ctx, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	assert.True(t, mr.Exists("lock"))
}

func TestExtend(t *testing.T) {
	t.Parallel()

	repo, mr := newRepo(t)
	ctx := context.Background()

	held, err := repo.Extend(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, held)

	release, ok, err := repo.Acquire(ctx, "lock", 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(8 * time.Second)

	held, err = repo.Extend(ctx, "lock", 10*time.Second)
	require.NoError(t, err)
	require.True(t, held)

	mr.FastForward(8 * time.Second)
	assert.True(t, mr.Exists("lock"))

	release()

	held, err = repo.Extend(ctx, "lock", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestExtend_lockTakenByAnotherReplica(t *testing.T) {
	t.Parallel()

	repo, mr := newRepo(t)
	ctx := context.Background()

	other, err := New(ctx, mr.Addr(), 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(other.Close)

	_, ok, err := repo.Acquire(ctx, "lock", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = other.Acquire(ctx, "lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	held, err := repo.Extend(ctx, "lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, held)
}
