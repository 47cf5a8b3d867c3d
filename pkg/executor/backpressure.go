package executor

import (
	"sync"

	"github.com/boristopalov/agentsim/pkg/metrics"
)

// monitor counts in-flight notifications per controller. Its mutex is
// independent of the step and environment locks.
type monitor struct {
	ceiling int

	mu       sync.Mutex
	inFlight map[string]int
}

func newMonitor(ceiling int) *monitor {
	return &monitor{
		ceiling:  ceiling,
		inFlight: make(map[string]int),
	}
}

// enter registers a notification and reports whether the controller is still
// within its ceiling. Every enter must be paired with a leave.
func (m *monitor) enter(id string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[id]++
	n := m.inFlight[id]
	metrics.SetInFlight(id, n)
	return n, n <= m.ceiling
}

func (m *monitor) leave(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight[id]--
	n := m.inFlight[id]
	if n <= 0 {
		delete(m.inFlight, id)
		n = 0
	}
	metrics.SetInFlight(id, n)
}

func (m *monitor) count(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight[id]
}
