package session

import "sync"

// Tier is a storage lifetime class backing some of the store's slots.
// Implementations must make Save and Clear atomic across the given keys.
type Tier interface {
	// Load returns the value for key. A missing key is reported as ok=false
	// with a nil error.
	Load(key string) (value string, ok bool, err error)
	// Save writes every entry of values.
	Save(values map[string]string) error
	// Clear removes the given keys. Missing keys are not an error.
	Clear(keys ...string) error
}

// MemoryTier is a thread-safe in-process Tier. Values are lost when the
// process exits, which is the ephemeral lifetime.
type MemoryTier struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ Tier = (*MemoryTier)(nil)

// NewMemoryTier creates an empty in-memory tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{data: make(map[string]string)}
}

func (m *MemoryTier) Load(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryTier) Save(values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryTier) Clear(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}
