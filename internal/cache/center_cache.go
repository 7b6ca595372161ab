package cache

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Directory is the membership lookup being cached.
type Directory interface {
	CentersOf(ctx context.Context, userID int64) ([]int64, error)
}

type centerEntry struct {
	centers []int64
	expires time.Time
}

// CenterCache keeps user center memberships for a short TTL in front of the
// accounts directory. Only membership is cached; option capacity never is.
type CenterCache struct {
	mu    sync.RWMutex
	store map[int64]centerEntry
	next  Directory
	ttl   time.Duration
	now   func() time.Time
}

func NewCenterCache(next Directory, ttl time.Duration) *CenterCache {
	return &CenterCache{
		store: make(map[int64]centerEntry),
		next:  next,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *CenterCache) CentersOf(ctx context.Context, userID int64) ([]int64, error) {
	if centers, ok := c.Get(userID); ok {
		return centers, nil
	}
	centers, err := c.next.CentersOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.Set(userID, centers)
	return slices.Clone(centers), nil
}

func (c *CenterCache) Get(userID int64) ([]int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.store[userID]
	if !ok || !c.now().Before(e.expires) {
		return nil, false
	}
	return slices.Clone(e.centers), true
}

func (c *CenterCache) Set(userID int64, centers []int64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[userID] = centerEntry{centers: slices.Clone(centers), expires: c.now().Add(c.ttl)}
}
