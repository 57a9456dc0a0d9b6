package seq

import (
	"context"
	"sync"
)

// MemAllocator is the test/local allocator: one counter per conversation.
type MemAllocator struct {
	mu   sync.Mutex
	next map[string]int64
}

func NewMemAllocator() *MemAllocator {
	return &MemAllocator{next: make(map[string]int64)}
}

func (a *MemAllocator) Next(_ context.Context, conversationID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[conversationID]++
	return a.next[conversationID], nil
}
