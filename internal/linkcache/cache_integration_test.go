//go:build integration

package linkcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mpi-mediator/pkg/testutil/containers"
)

func TestCacheRoundTrip(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	cache := New(rc.Client, time.Minute)

	links := []string{"Patient/1", "Patient/3", "Patient/2"}
	require.NoError(t, cache.Store(ctx, "Patient/1", links))

	got, err := cache.Lookup(ctx, "Patient/1")
	require.NoError(t, err)
	assert.Equal(t, links, got)

	// Every member of the set resolves to the same cached answer.
	got, err = cache.Lookup(ctx, "Patient/3")
	require.NoError(t, err)
	assert.Equal(t, links, got)
}

func TestCacheMissReturnsNil(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	cache := New(rc.Client, time.Minute)

	got, err := cache.Lookup(ctx, "Patient/unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheInvalidate(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	cache := New(rc.Client, time.Minute)
	require.NoError(t, cache.Store(ctx, "Patient/1", []string{"Patient/1", "Patient/3"}))

	require.NoError(t, cache.Invalidate(ctx, "Patient/1", "Patient/3"))

	got, err := cache.Lookup(ctx, "Patient/1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
