package kvstore

import "github.com/puzpuzpuz/xsync/v3"

// Memory is a volatile store.
type Memory struct {
	m *xsync.MapOf[string, string]
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{m: xsync.NewMapOf[string, string]()}
}

func (m *Memory) Get(key string) (string, error) {
	v, ok := m.m.Load(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(key, value string) error {
	m.m.Store(key, value)
	return nil
}

func (m *Memory) Close() error { return nil }
