package util

import "sync"

// SyncSlice is an append-only slice safe for concurrent use.
type SyncSlice[T any] struct {
	mu    sync.RWMutex
	slice []T
}

func NewSyncSlice[T any]() *SyncSlice[T] {
	return &SyncSlice[T]{}
}

func (s *SyncSlice[T]) Add(item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slice = append(s.slice, item)
}

func (s *SyncSlice[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slice)
}

func (s *SyncSlice[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slice
}
