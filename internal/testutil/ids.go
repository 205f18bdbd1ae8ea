package testutil

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// SeededIDs yields a deterministic UUID sequence for bake build stamps.
//
// Golden table comparisons need byte-identical output across runs, so the
// random build IDs the pipeline mints by default are swapped for this
// generator in tests.
//
// Thread-safety: Next is safe for concurrent use via internal mutex.
type SeededIDs struct {
	mu sync.Mutex
	n  uint64
}

// NewSeededIDs creates a generator whose first ID ends in ...000001.
func NewSeededIDs() *SeededIDs {
	return &SeededIDs{}
}

// Next returns the next ID in the sequence. The IDs carry the version-7
// and variant bits so they are well-formed, but the timestamp field is the
// sequence counter rather than wall time.
func (s *SeededIDs) Next() uuid.UUID {
	s.mu.Lock()
	s.n++
	n := s.n
	s.mu.Unlock()

	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], n)
	id[6] = 0x70 | (id[6] & 0x0f)
	id[8] = 0x80 | (id[8] & 0x3f)
	return id
}
