package kv

import (
	"context"
	"sync"
)

// Memory is a Store kept in process memory
type Memory struct {
	mu sync.Mutex
	m  map[string][]byte
}

var (
	_ Store   = &Memory{}
	_ Updater = &Memory{}
)

func NewMemory() *Memory {
	return &Memory{
		m: map[string][]byte{},
	}
}

func (s *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Memory) Put(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	s.m[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

func (s *Memory) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var old []byte
	if v, ok := s.m[key]; ok {
		old = append([]byte(nil), v...)
	}
	v, err := fn(old)
	if err != nil {
		return err
	}
	s.m[key] = append([]byte(nil), v...)
	return nil
}

// Len returns number of keys
func (s *Memory) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// Delete removes a key. The application never deletes, it's for simulating
// lost writes in tests.
func (s *Memory) Delete(key string) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}
