// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

// Package cache provides the bounded, time-windowed structures backing
// the dedup registry. Nothing here grows without limit: entries expire
// after their TTL and the least recently seen entry is evicted once
// capacity is reached.
package cache

import (
	"sync"
	"time"
)

// seenEntry is a node in the doubly-linked recency list.
type seenEntry struct {
	key       string
	firstSeen time.Time
	expiresAt time.Time
	prev      *seenEntry
	next      *seenEntry
}

// SeenIndex is a thread-safe recency index with per-entry TTL, used as
// the dedup registry's global window across sources. All operations are
// O(1): a hashmap provides lookup, a doubly-linked list provides
// eviction order. Expiration is lazy; there is no background sweeper.
type SeenIndex struct {
	mu sync.Mutex

	capacity int
	ttl      time.Duration

	items map[string]*seenEntry

	// head.next is most recently seen, tail.prev least recently seen.
	head *seenEntry
	tail *seenEntry

	// now is replaceable for tests.
	now func() time.Time
}

// NewSeenIndex creates an index holding up to capacity keys, each
// expiring ttl after insertion.
func NewSeenIndex(capacity int, ttl time.Duration) *SeenIndex {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 8 * time.Minute
	}
	idx := &SeenIndex{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*seenEntry, capacity),
		head:     &seenEntry{},
		tail:     &seenEntry{},
		now:      time.Now,
	}
	idx.head.next = idx.tail
	idx.tail.prev = idx.head
	return idx
}

// SetClock replaces the time source. Test hook.
func (s *SeenIndex) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SeenWithin atomically checks and records a key. It returns true, and
// the time the key was first recorded, when the key is already present
// and unexpired; otherwise it records the key and returns false. The
// check-and-insert is a single critical section so two sources racing on
// the same listen cannot both pass.
func (s *SeenIndex) SeenWithin(key string, ttl time.Duration) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if ttl <= 0 {
		ttl = s.ttl
	}

	if entry, ok := s.items[key]; ok {
		if !now.After(entry.expiresAt) {
			s.moveToFront(entry)
			return entry.firstSeen, true
		}
		s.unlink(entry)
	}

	entry := &seenEntry{
		key:       key,
		firstSeen: now,
		expiresAt: now.Add(ttl),
	}
	s.pushFront(entry)
	s.items[key] = entry

	for len(s.items) > s.capacity {
		s.evictOldest()
	}
	return time.Time{}, false
}

// Contains reports whether a key is present and unexpired, without
// recording it or touching recency.
func (s *SeenIndex) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.items[key]
	return ok && !s.now().After(entry.expiresAt)
}

// Len returns the number of live entries, counting expired-but-unswept
// ones.
func (s *SeenIndex) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep removes expired entries and returns how many were dropped.
// Called opportunistically by the pipeline consumer; correctness does
// not depend on it.
func (s *SeenIndex) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for entry := s.tail.prev; entry != s.head; {
		prev := entry.prev
		if now.After(entry.expiresAt) {
			s.unlink(entry)
			removed++
		}
		entry = prev
	}
	return removed
}

// List management. Callers hold mu.

func (s *SeenIndex) pushFront(entry *seenEntry) {
	entry.prev = s.head
	entry.next = s.head.next
	s.head.next.prev = entry
	s.head.next = entry
}

func (s *SeenIndex) moveToFront(entry *seenEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	s.pushFront(entry)
}

func (s *SeenIndex) unlink(entry *seenEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(s.items, entry.key)
}

func (s *SeenIndex) evictOldest() {
	oldest := s.tail.prev
	if oldest == s.head {
		return
	}
	s.unlink(oldest)
}
