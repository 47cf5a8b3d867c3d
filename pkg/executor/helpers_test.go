package executor

import (
	"context"
	"sync"
	"time"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
)

var tester = core.AgentType{Name: "tester"}

// tickDomain pays every body the same reward each tick.
type tickDomain struct {
	reward float64
	limit  int
	omit   bool
	ticks  int
	bodies map[int]bool
}

func newTickDomain(reward float64, limit int) *tickDomain {
	return &tickDomain{reward: reward, limit: limit, bodies: make(map[int]bool)}
}

func (d *tickDomain) AddBody(body core.Body) error {
	d.bodies[body.ID()] = true
	return nil
}

func (d *tickDomain) RemoveBody(body core.Body) {
	delete(d.bodies, body.ID())
}

func (d *tickDomain) IsRecognizedAction(core.Body, core.Action) bool { return true }

func (d *tickDomain) Tick(actions map[core.Body]core.Action) (environment.TickResult, error) {
	d.ticks++
	result := environment.TickResult{Rewards: make(map[core.Body]float64)}
	if d.omit {
		return result, nil
	}
	for body := range actions {
		result.Rewards[body] = d.reward
	}
	return result, nil
}

func (d *tickDomain) IsTerminal() bool {
	return d.limit > 0 && d.ticks >= d.limit
}

func (d *tickDomain) Clone() environment.Domain {
	c := *d
	c.bodies = make(map[int]bool, len(d.bodies))
	for id, ok := range d.bodies {
		c.bodies[id] = ok
	}
	return &c
}

// recorder is a controller that records its notifications and delegates
// to handle.
type recorder struct {
	handle func(ctx context.Context, call int) error

	mu       sync.Mutex
	body     core.Body
	calls    int
	received []float64
	started  bool
	shutDown bool
}

func (r *recorder) Init(body core.Body, env *environment.Environment, stepDelay time.Duration) error {
	r.body = body
	return nil
}

func (r *recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	return nil
}

func (r *recorder) OnReward(ctx context.Context, reward float64) error {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.received = append(r.received, reward)
	r.mu.Unlock()
	if r.handle == nil {
		return nil
	}
	return r.handle(ctx, call)
}

func (r *recorder) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shutDown = true
}

func (r *recorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
