// Package memory keeps a bounded stream of text an agent has observed.
package memory

import "sync"

type Memory struct {
	memoryStream []string
	capacity     int
	mu           sync.RWMutex
}

func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		memoryStream: make([]string, 0, capacity),
		capacity:     capacity,
	}
}

// GetAllMessages returns a copy of all messages in memory, oldest first.
func (m *Memory) GetAllMessages() []string {
	return m.Recent(m.capacity)
}

// Recent returns a copy of the last n messages, oldest first.
func (m *Memory) Recent(n int) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n > len(m.memoryStream) {
		n = len(m.memoryStream)
	}
	if n <= 0 {
		return []string{}
	}
	messages := make([]string, n)
	copy(messages, m.memoryStream[len(m.memoryStream)-n:])
	return messages
}

// Store appends data, evicting the oldest entry when full.
func (m *Memory) Store(data string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.memoryStream = append(m.memoryStream, data)
	if len(m.memoryStream) > m.capacity {
		m.memoryStream = m.memoryStream[1:]
	}
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.memoryStream)
}
