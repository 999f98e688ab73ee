// Package storage provides the key/value port used for client-side
// persistence (location cache, starred stops) and its adapters.
package storage

import (
	"errors"
	"sync"

	"github.com/bluele/gcache"
)

// Storage is a minimal string key/value store
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

// Memory is a process-local Storage backed by an LRU cache
type Memory struct {
	mu    sync.Mutex
	cache gcache.Cache
}

// NewMemory creates a memory store holding at most size keys
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 128
	}
	return &Memory{
		cache: gcache.New(size).LRU().Build(),
	}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, err := m.cache.Get(key)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	s, ok := v.(string)
	if !ok {
		return "", false, nil
	}
	return s, true, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Set(key, value)
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(key)
	return nil
}
