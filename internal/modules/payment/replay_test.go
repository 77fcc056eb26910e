// README: Replay guard test against a real Redis.
package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursier/internal/testutil"
)

func TestRedisReplayGuard(t *testing.T) {
	ctx := context.Background()
	g := NewRedisReplayGuard(testutil.Redis(t), time.Minute)

	seen, err := g.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = g.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, g.Release(ctx, "abc"))
	seen, err = g.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, seen)
}
