package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemory(t *testing.T) {
	t.Run("test oldest entries are evicted", func(t *testing.T) {
		m := NewMemory(3)
		for i := 0; i < 5; i++ {
			m.Store(fmt.Sprintf("event %d", i))
		}
		assert.Equal(t, 3, m.Len())
		assert.Equal(t, []string{"event 2", "event 3", "event 4"}, m.GetAllMessages())
	})

	t.Run("test recent", func(t *testing.T) {
		m := NewMemory(10)
		assert.Empty(t, m.Recent(2))
		m.Store("a")
		m.Store("b")
		m.Store("c")
		assert.Equal(t, []string{"b", "c"}, m.Recent(2))
		assert.Equal(t, []string{"a", "b", "c"}, m.Recent(20))
	})

	t.Run("test returned slices are copies", func(t *testing.T) {
		m := NewMemory(2)
		m.Store("a")
		got := m.GetAllMessages()
		got[0] = "changed"
		assert.Equal(t, []string{"a"}, m.GetAllMessages())
	})
}
