package agent

import (
	"context"
	"errors"
	"sync"
)

type mockClient struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (m *mockClient) Complete(ctx context.Context, model string, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	if len(m.responses) == 0 {
		return "", errors.New("no more responses")
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func (m *mockClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
