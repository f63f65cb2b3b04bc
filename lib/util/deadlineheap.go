// Package util
//
// This file provides a keyed deadline queue: a binary heap ordered by
// deadline combined with a map for key-based access.
//
// Time Complexity:
//   - O(log n) for Schedule, Remove and PopExpired (per popped item)
//   - O(1) for Peek and Contains
//
// The queue is not safe for concurrent use. The correlator guards it with
// its own mutex and sweeps it from a single goroutine.
//
// Example usage:
//
//	q := NewDeadlineHeap[uint32]()
//	q.Schedule(42, time.Now().Add(time.Second))
//	q.Remove(42) // answered in time
//	for _, key := range q.PopExpired(time.Now()) {
//	    // key timed out
//	}
package util

import (
	"container/heap"
	"fmt"
	"time"
)

// deadlineItem is one scheduled key
type deadlineItem[K comparable] struct {
	Key      K
	Deadline time.Time
	index    int // index in the heap, maintained by the heap package
}

func (i *deadlineItem[K]) String() string {
	return fmt.Sprintf("{Key: %v, Deadline: %s}", i.Key, i.Deadline.Format(time.RFC3339Nano))
}

// deadlineSlice implements heap.Interface, the earliest deadline first
type deadlineSlice[K comparable] struct {
	items    []*deadlineItem[K]
	itemsMap map[K]*deadlineItem[K]
}

func (s *deadlineSlice[K]) Len() int { return len(s.items) }

func (s *deadlineSlice[K]) Less(i, j int) bool {
	return s.items[i].Deadline.Before(s.items[j].Deadline)
}

func (s *deadlineSlice[K]) Swap(i, j int) {
	s.items[i], s.items[j] = s.items[j], s.items[i]
	s.items[i].index = i
	s.items[j].index = j
}

func (s *deadlineSlice[K]) Push(x any) {
	it := x.(*deadlineItem[K])
	it.index = len(s.items)
	s.items = append(s.items, it)
	s.itemsMap[it.Key] = it
}

func (s *deadlineSlice[K]) Pop() any {
	old := s.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil // avoid memory leak
	it.index = -1
	s.items = old[:n-1]
	delete(s.itemsMap, it.Key)
	return it
}

// DeadlineHeap orders keys by deadline and allows removing them by key
type DeadlineHeap[K comparable] struct {
	s deadlineSlice[K]
}

// NewDeadlineHeap creates an empty deadline queue
func NewDeadlineHeap[K comparable]() *DeadlineHeap[K] {
	return &DeadlineHeap[K]{
		s: deadlineSlice[K]{
			items:    make([]*deadlineItem[K], 0),
			itemsMap: make(map[K]*deadlineItem[K]),
		},
	}
}

// Len returns the number of scheduled keys
func (h *DeadlineHeap[K]) Len() int { return h.s.Len() }

// Schedule adds a key or moves its deadline if it is already scheduled
func (h *DeadlineHeap[K]) Schedule(key K, deadline time.Time) {
	if it, exists := h.s.itemsMap[key]; exists {
		it.Deadline = deadline
		heap.Fix(&h.s, it.index)
		return
	}
	heap.Push(&h.s, &deadlineItem[K]{Key: key, Deadline: deadline})
}

// Remove unschedules a key. It returns the deadline the key had.
func (h *DeadlineHeap[K]) Remove(key K) (time.Time, bool) {
	it, exists := h.s.itemsMap[key]
	if !exists {
		return time.Time{}, false
	}
	heap.Remove(&h.s, it.index)
	return it.Deadline, true
}

// Peek returns the key with the earliest deadline without removing it
func (h *DeadlineHeap[K]) Peek() (K, time.Time, bool) {
	if len(h.s.items) == 0 {
		var zero K
		return zero, time.Time{}, false
	}
	it := h.s.items[0]
	return it.Key, it.Deadline, true
}

// Contains checks if a key is scheduled
func (h *DeadlineHeap[K]) Contains(key K) bool {
	_, exists := h.s.itemsMap[key]
	return exists
}

// PopExpired removes and returns all keys whose deadline is not after now,
// earliest first
func (h *DeadlineHeap[K]) PopExpired(now time.Time) []K {
	var expired []K
	for len(h.s.items) > 0 && !h.s.items[0].Deadline.After(now) {
		it := heap.Pop(&h.s).(*deadlineItem[K])
		expired = append(expired, it.Key)
	}
	return expired
}

// Clear removes all keys
func (h *DeadlineHeap[K]) Clear() {
	for _, it := range h.s.items {
		it.index = -1
	}
	h.s.items = h.s.items[:0]
	clear(h.s.itemsMap)
}
