package keylock

import (
	"sync"

	"github.com/zeebo/xxh3"
)

const defaultStripes = 64

// Striped serializes work per key. Keys hash onto a fixed set of mutexes, so two
// different tokens may share a stripe but the same token always maps to the same one.
type Striped struct {
	stripes []sync.Mutex
}

// New creates a lock set with n stripes (n <= 0 selects the default).
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

func (s *Striped) stripe(key string) *sync.Mutex {
	return &s.stripes[xxh3.HashString(key)%uint64(len(s.stripes))]
}

// Lock acquires the stripe for key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	m := s.stripe(key)
	m.Lock()
	return m.Unlock
}

// Do runs fn while holding the stripe for key.
func (s *Striped) Do(key string, fn func()) {
	unlock := s.Lock(key)
	defer unlock()
	fn()
}
