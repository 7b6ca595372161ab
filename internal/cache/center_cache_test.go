package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	calls   int
	centers map[int64][]int64
	err     error
}

func (d *countingDirectory) CentersOf(ctx context.Context, userID int64) ([]int64, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.centers[userID], nil
}

func TestCenterCache_HitsUntilExpiry(t *testing.T) {
	dir := &countingDirectory{centers: map[int64][]int64{1: {10, 20}}}
	c := NewCenterCache(dir, time.Minute)
	clock := time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		got, err := c.CentersOf(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{10, 20}, got)
	}
	assert.Equal(t, 1, dir.calls)

	clock = clock.Add(time.Minute)
	_, err := c.CentersOf(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, dir.calls, "entry expires at exactly ttl")
}

func TestCenterCache_ReturnsCopies(t *testing.T) {
	dir := &countingDirectory{centers: map[int64][]int64{1: {10}}}
	c := NewCenterCache(dir, time.Minute)

	got, err := c.CentersOf(context.Background(), 1)
	require.NoError(t, err)
	got[0] = 99

	again, err := c.CentersOf(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{10}, again)
}

func TestCenterCache_ErrorsAreNotCached(t *testing.T) {
	dir := &countingDirectory{err: errors.New("accounts down")}
	c := NewCenterCache(dir, time.Minute)

	_, err := c.CentersOf(context.Background(), 1)
	require.Error(t, err)

	dir.err = nil
	dir.centers = map[int64][]int64{1: {5}}
	got, err := c.CentersOf(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, got)
	assert.Equal(t, 2, dir.calls)
}

func TestCenterCache_ZeroTTLDisables(t *testing.T) {
	dir := &countingDirectory{centers: map[int64][]int64{1: {10}}}
	c := NewCenterCache(dir, 0)

	_, _ = c.CentersOf(context.Background(), 1)
	_, _ = c.CentersOf(context.Background(), 1)
	assert.Equal(t, 2, dir.calls)
}
