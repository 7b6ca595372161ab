package memory

import (
	"context"
	"slices"
	"sync"
)

// Directory is an in-process user to centers mapping for local runs.
type Directory struct {
	mu      sync.RWMutex
	centers map[int64][]int64
}

func NewDirectory() *Directory {
	return &Directory{centers: make(map[int64][]int64)}
}

func (d *Directory) SetUserCenters(userID int64, centers ...int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.centers[userID] = slices.Clone(centers)
}

// CentersOf returns nil for unknown users.
func (d *Directory) CentersOf(ctx context.Context, userID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.centers[userID]), nil
}
