// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"strconv"
	"sync"
)

// ByteStore holds binary results until the browser fetches them through
// GET /retrieve-resource. Each id is retrievable at most once; blobs that are
// never fetched stay until the process exits.
type ByteStore struct {
	mu    sync.Mutex
	next  uint64
	blobs map[string][]byte
	size  int64
}

// NewByteStore returns an empty store whose first id is "0".
func NewByteStore() *ByteStore {
	return &ByteStore{blobs: make(map[string][]byte)}
}

// Insert stores blob and returns its id.
func (s *ByteStore) Insert(blob []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strconv.FormatUint(s.next, 10)
	s.next++
	s.blobs[id] = blob
	s.size += int64(len(blob))
	return id
}

// Take removes and returns the blob for id.
func (s *ByteStore) Take(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blobs[id]
	if !ok {
		return nil, false
	}
	delete(s.blobs, id)
	s.size -= int64(len(blob))
	return blob, true
}

// Len reports how many blobs are waiting to be fetched.
func (s *ByteStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// Size reports the total bytes waiting to be fetched.
func (s *ByteStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}
