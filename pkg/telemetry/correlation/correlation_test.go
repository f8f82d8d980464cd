package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureMintsIDStampedAtNow(t *testing.T) {
	now := time.Date(2025, 9, 1, 0, 5, 0, 0, time.UTC)

	ctx, id := Ensure(context.Background(), now)
	require.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))

	issued, ok := IssuedAt(id)
	require.True(t, ok)
	assert.Equal(t, now, issued)

	again, same := Ensure(ctx, now.Add(time.Hour))
	assert.Equal(t, id, same)
	assert.Equal(t, id, FromContext(again))
}

func TestEnsureKeepsRequestID(t *testing.T) {
	ctx := WithID(context.Background(), "req-123")

	_, id := Ensure(ctx, time.Now())
	assert.Equal(t, "req-123", id)

	_, ok := IssuedAt(id)
	assert.False(t, ok)
}

func TestRunIDsSortByClock(t *testing.T) {
	_, first := Ensure(context.Background(), time.Date(2025, 8, 1, 0, 5, 0, 0, time.UTC))
	_, second := Ensure(context.Background(), time.Date(2025, 9, 1, 0, 5, 0, 0, time.UTC))
	assert.Less(t, first, second)
}
