// Package memory 提供内存批次存储，用于测试与小型中继
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("memory: key not found")

type Memory struct {
	mu      sync.RWMutex
	batches map[string][]byte
}

func NewClient() (*Memory, error) {
	return &Memory{
		batches: make(map[string][]byte),
	}, nil
}

func (m *Memory) Put(ctx context.Context, key string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(content))
	copy(buf, content)
	m.batches[key] = buf
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.batches[key]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(content))
	copy(buf, content)
	return buf, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.batches {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.batches, key)
	return nil
}

// Len 返回当前存储的批次数量
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.batches)
}
