package environment

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/logger"
)

// Environment owns the simulation state shared by all controllers: the time
// step counter, cumulative rewards and the set of active and removed bodies.
// All mutation passes through SubmitAction, Step and RemoveBody.
type Environment struct {
	domain Domain
	buffer *ActionBuffer
	logger *zap.SugaredLogger

	mu         sync.RWMutex
	step       uint64
	nextID     int
	terminal   bool
	bodies     []core.Body
	removed    map[int]bool
	cumulative map[int]float64
	lastFailed map[int]bool
}

type Option func(*Environment)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Environment) {
		e.logger = l
	}
}

func New(domain Domain, opts ...Option) *Environment {
	e := &Environment{
		domain:     domain,
		buffer:     NewActionBuffer(),
		removed:    make(map[int]bool),
		cumulative: make(map[int]float64),
		lastFailed: make(map[int]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.For(logger.ComponentEnvironment)
	}
	e.terminal = domain.IsTerminal()
	return e
}

// CreateBody registers a new body of the given type with the domain.
func (e *Environment) CreateBody(agentType core.AgentType) (core.Body, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	body := core.NewBody(e.nextID, agentType)
	if err := e.domain.AddBody(body); err != nil {
		return core.Body{}, fmt.Errorf("failed to add body %s: %w", body, err)
	}
	e.nextID++
	e.bodies = append(e.bodies, body)
	e.cumulative[body.ID()] = 0
	e.terminal = e.domain.IsTerminal()
	return body, nil
}

// SubmitAction buffers an action for the next step. It may be called from any
// goroutine any number of times between steps; only the last submission per
// body is applied. The return value reports acceptance only.
func (e *Environment) SubmitAction(body core.Body, action core.Action) bool {
	e.mu.RLock()
	known := e.isKnown(body)
	removed := e.removed[body.ID()]
	recognized := known && e.domain.IsRecognizedAction(body, action)
	e.mu.RUnlock()

	if !known || removed || !recognized {
		e.logger.Debugf("Rejected action %s for body %s (known=%t removed=%t)", action, body, known, removed)
		return false
	}
	e.buffer.Put(body, action)
	return true
}

// Step drains the action buffer and computes one tick atomically. Callers
// must serialize Step; the environment only guarantees that drain and
// compute happen as one unit.
func (e *Environment) Step() (map[core.Body]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminal {
		return nil, fmt.Errorf("step %d called on terminal environment: %w", e.step, core.ErrSimulationFault)
	}

	drained := e.buffer.Drain()
	actions := make(map[core.Body]core.Action, len(e.bodies))
	for _, body := range e.bodies {
		if e.removed[body.ID()] {
			continue
		}
		if action, ok := drained[body]; ok {
			actions[body] = action
		} else {
			actions[body] = core.NoOp
		}
	}

	result, err := e.domain.Tick(actions)
	if err != nil {
		return nil, fmt.Errorf("tick %d failed: %v: %w", e.step, err, core.ErrSimulationFault)
	}

	rewards := make(map[core.Body]float64, len(actions))
	e.lastFailed = make(map[int]bool, len(result.Failed))
	for body := range actions {
		reward, ok := result.Rewards[body]
		if !ok {
			continue
		}
		e.cumulative[body.ID()] += reward
		rewards[body] = reward
		if result.Failed[body] {
			e.lastFailed[body.ID()] = true
		}
	}

	e.step++
	e.terminal = e.domain.IsTerminal()
	return rewards, nil
}

// RemoveBody stops a body from acting and accruing reward. The penalty is
// applied once; the body's historical total is kept.
func (e *Environment) RemoveBody(body core.Body, penalty float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isKnown(body) {
		return fmt.Errorf("body %s not found", body)
	}
	if e.removed[body.ID()] {
		return fmt.Errorf("body %s already removed", body)
	}
	e.removed[body.ID()] = true
	e.cumulative[body.ID()] -= penalty
	e.buffer.Discard(body)
	e.domain.RemoveBody(body)
	e.terminal = e.domain.IsTerminal()
	e.logger.Infof("Removed body %s with penalty %.2f", body, penalty)
	return nil
}

func (e *Environment) IsTerminal() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.terminal
}

func (e *Environment) TimeStep() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.step
}

func (e *Environment) CumulativeReward(body core.Body) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cumulative[body.ID()]
}

func (e *Environment) IsRemoved(body core.Body) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.removed[body.ID()]
}

// LastActionFailed reports whether the body's action in the most recent step
// was accepted but failed in the domain.
func (e *Environment) LastActionFailed(body core.Body) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastFailed[body.ID()]
}

// ActiveBodies returns the bodies that have not been removed, ordered by id.
func (e *Environment) ActiveBodies() []core.Body {
	e.mu.RLock()
	defer e.mu.RUnlock()

	active := make([]core.Body, 0, len(e.bodies))
	for _, b := range e.bodies {
		if !e.removed[b.ID()] {
			active = append(active, b)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID() < active[j].ID() })
	return active
}

// PendingAction exposes the buffered action for a body.
func (e *Environment) PendingAction(body core.Body) (core.Action, bool) {
	return e.buffer.Pending(body)
}

// View runs fn with read access to the domain. fn must not retain the domain
// or call back into the environment.
func (e *Environment) View(fn func(d Domain)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.domain)
}

// Clone returns an isolated copy for simulation: same state, deep-copied
// domain and an empty action buffer.
func (e *Environment) Clone() *Environment {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c := &Environment{
		domain:     e.domain.Clone(),
		buffer:     NewActionBuffer(),
		logger:     e.logger,
		step:       e.step,
		nextID:     e.nextID,
		terminal:   e.terminal,
		bodies:     append([]core.Body(nil), e.bodies...),
		removed:    make(map[int]bool, len(e.removed)),
		cumulative: make(map[int]float64, len(e.cumulative)),
		lastFailed: make(map[int]bool),
	}
	for id, r := range e.removed {
		c.removed[id] = r
	}
	for id, r := range e.cumulative {
		c.cumulative[id] = r
	}
	return c
}

func (e *Environment) isKnown(body core.Body) bool {
	return body.ID() >= 0 && body.ID() < e.nextID && e.bodies[body.ID()].Equal(body)
}
