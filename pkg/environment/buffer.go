package environment

import (
	"sync"

	"github.com/boristopalov/agentsim/pkg/core"
)

type pendingAction struct {
	body   core.Body
	action core.Action
}

// ActionBuffer is the per-environment mailbox. It holds at most one pending
// action per body; a second submission before the next drain overwrites the
// first.
type ActionBuffer struct {
	pending map[int]pendingAction
	mu      sync.Mutex
}

func NewActionBuffer() *ActionBuffer {
	return &ActionBuffer{
		pending: make(map[int]pendingAction),
	}
}

// Put stores the action for body and reports whether an earlier pending
// action was overwritten.
func (b *ActionBuffer) Put(body core.Body, action core.Action) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, overwrote := b.pending[body.ID()]
	b.pending[body.ID()] = pendingAction{body: body, action: action}
	return overwrote
}

// Drain removes and returns every pending action.
func (b *ActionBuffer) Drain() map[core.Body]core.Action {
	b.mu.Lock()
	defer b.mu.Unlock()

	drained := make(map[core.Body]core.Action, len(b.pending))
	for _, p := range b.pending {
		drained[p.body] = p.action
	}
	b.pending = make(map[int]pendingAction)
	return drained
}

// Discard drops the pending action of a single body, if any.
func (b *ActionBuffer) Discard(body core.Body) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, body.ID())
}

// Pending returns the action currently buffered for body.
func (b *ActionBuffer) Pending(body core.Body) (core.Action, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[body.ID()]
	return p.action, ok
}

func (b *ActionBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
