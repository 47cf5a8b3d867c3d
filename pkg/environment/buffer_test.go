package environment

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/boristopalov/agentsim/pkg/core"
)

func TestActionBuffer(t *testing.T) {
	kind := core.AgentType{Name: "test"}
	a, b := core.NewBody(0, kind), core.NewBody(1, kind)

	t.Run("test last submission wins", func(t *testing.T) {
		buf := NewActionBuffer()
		assert.False(t, buf.Put(a, add(1)))
		assert.True(t, buf.Put(a, add(2)))

		got, ok := buf.Pending(a)
		assert.True(t, ok)
		assert.Equal(t, add(2), got)
		assert.Equal(t, 1, buf.Len())
	})

	t.Run("test drain empties the buffer", func(t *testing.T) {
		buf := NewActionBuffer()
		buf.Put(a, add(1))
		buf.Put(b, add(3))

		assert.Equal(t, map[core.Body]core.Action{a: add(1), b: add(3)}, buf.Drain())
		assert.Equal(t, 0, buf.Len())
		assert.Empty(t, buf.Drain())
	})

	t.Run("test discard drops one body", func(t *testing.T) {
		buf := NewActionBuffer()
		buf.Put(a, add(1))
		buf.Put(b, add(3))
		buf.Discard(a)

		_, ok := buf.Pending(a)
		assert.False(t, ok)
		assert.Equal(t, map[core.Body]core.Action{b: add(3)}, buf.Drain())
	})

	t.Run("test concurrent puts keep one action per body", func(t *testing.T) {
		buf := NewActionBuffer()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				body := a
				if i%2 == 1 {
					body = b
				}
				buf.Put(body, add(i))
			}()
		}
		wg.Wait()
		assert.Equal(t, 2, buf.Len())
	})
}
