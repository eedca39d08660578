//go:build integration

package debounce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemma/pkg/testutil/containers"
)

func TestRedisObserve(t *testing.T) {
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	w := NewRedis(rc.Client, 500*time.Millisecond)

	first, err := w.Observe(ctx, "04a3b2c1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = w.Observe(ctx, "04a3b2c1")
	require.NoError(t, err)
	assert.False(t, first)

	// Two processes sharing the window agree on who saw it first.
	other := NewRedis(rc.Client, 500*time.Millisecond)
	first, err = other.Observe(ctx, "04a3b2c1")
	require.NoError(t, err)
	assert.False(t, first)

	time.Sleep(600 * time.Millisecond)
	first, err = w.Observe(ctx, "04a3b2c1")
	require.NoError(t, err)
	assert.True(t, first)
}
