package api

import (
	"sync"
	"time"

	"github.com/vestio/vestio/internal/uuid"
)

// expiringStore is a thread-safe map of opaque identifiers to values that
// lapse after a fixed time to live. Expired entries read as absent and are
// dropped on access or by sweep.
type expiringStore[T any] struct {
	mu   sync.Mutex
	data map[string]expiring[T]
	ttl  time.Duration
	now  func() time.Time
}

type expiring[T any] struct {
	value     T
	expiresAt time.Time
}

func newExpiringStore[T any](ttl time.Duration, now func() time.Time) *expiringStore[T] {
	return &expiringStore[T]{
		data: make(map[string]expiring[T]),
		ttl:  ttl,
		now:  now,
	}
}

// issue stores v under a fresh random identifier and returns it.
func (s *expiringStore[T]) issue(v T) string {
	id := uuid.New()
	s.mu.Lock()
	s.data[id] = expiring[T]{value: v, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return id
}

func (s *expiringStore[T]) get(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *expiringStore[T]) getLocked(id string) (T, bool) {
	var zero T
	e, ok := s.data[id]
	if !ok {
		return zero, false
	}
	if s.now().After(e.expiresAt) {
		delete(s.data, id)
		return zero, false
	}
	return e.value, true
}

// update applies fn to the live value under id. If fn returns false the
// entry is removed.
func (s *expiringStore[T]) update(id string, fn func(*T) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getLocked(id)
	if !ok {
		return false
	}
	if !fn(&v) {
		delete(s.data, id)
		return true
	}
	e := s.data[id]
	e.value = v
	s.data[id] = e
	return true
}

// take returns and removes the value under id.
func (s *expiringStore[T]) take(id string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.getLocked(id)
	if ok {
		delete(s.data, id)
	}
	return v, ok
}

func (s *expiringStore[T]) delete(id string) {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
}

// deleteWhere removes every live entry for which match returns true.
func (s *expiringStore[T]) deleteWhere(match func(T) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.data {
		if match(e.value) {
			delete(s.data, id)
			n++
		}
	}
	return n
}

// sweep removes expired entries.
func (s *expiringStore[T]) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, e := range s.data {
		if now.After(e.expiresAt) {
			delete(s.data, id)
		}
	}
}

func (s *expiringStore[T]) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
