package scheduler

import (
	"context"
	"sync"
)

// ResourceLockManager provides per-key mutual exclusion between loops, keyed
// by working directory. Each key gets its own one-slot semaphore, so loops on
// different directories run concurrently while loops on the same directory
// take turns.
type ResourceLockManager struct {
	mu    sync.Mutex               // Guards the locks map itself
	locks map[string]chan struct{} // Per-key semaphores
}

// NewResourceLockManager creates a new ResourceLockManager.
func NewResourceLockManager() *ResourceLockManager {
	return &ResourceLockManager{
		locks: make(map[string]chan struct{}),
	}
}

func (r *ResourceLockManager) slot(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[key] = ch
	}
	return ch
}

// Acquire blocks until key is free or ctx is done. The returned release
// function must be called exactly once when the lock was acquired.
func (r *ResourceLockManager) Acquire(ctx context.Context, key string) (release func(), err error) {
	ch := r.slot(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
