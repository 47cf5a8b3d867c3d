package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
)

// Observation is what a policy sees on each notification.
type Observation struct {
	Body       core.Body
	Reward     float64
	TimeStep   uint64
	Cumulative float64
	Env        *environment.Environment
}

type Policy interface {
	Decide(ctx context.Context, obs Observation) (core.Action, error)
}

type PolicyFunc func(ctx context.Context, obs Observation) (core.Action, error)

func (f PolicyFunc) Decide(ctx context.Context, obs Observation) (core.Action, error) {
	return f(ctx, obs)
}

// Preparer is implemented by policies that need setup before the first step.
type Preparer interface {
	Prepare(ctx context.Context, body core.Body, env *environment.Environment) error
}

// ReactiveController asks its policy for an action on every notification.
type ReactiveController struct {
	base
	policy Policy

	mu       sync.Mutex
	rejected int
}

var _ Controller = (*ReactiveController)(nil)

func NewReactiveController(policy Policy, opts ...Option) *ReactiveController {
	return &ReactiveController{
		base:   newBase(opts),
		policy: policy,
	}
}

func (c *ReactiveController) Init(body core.Body, env *environment.Environment, stepDelay time.Duration) error {
	if c.policy == nil {
		return fmt.Errorf("reactive controller for %s has no policy", body)
	}
	c.init(body, env, stepDelay)
	return nil
}

func (c *ReactiveController) Start(ctx context.Context) error {
	if p, ok := c.policy.(Preparer); ok {
		if err := p.Prepare(ctx, c.body, c.env); err != nil {
			return fmt.Errorf("failed to prepare policy: %w", err)
		}
	}
	return nil
}

func (c *ReactiveController) OnReward(ctx context.Context, reward float64) error {
	obs := Observation{
		Body:       c.body,
		Reward:     reward,
		TimeStep:   c.env.TimeStep(),
		Cumulative: c.env.CumulativeReward(c.body),
		Env:        c.env,
	}
	action, err := c.policy.Decide(ctx, obs)
	if err != nil {
		return fmt.Errorf("policy failed at step %d: %w", obs.TimeStep, err)
	}
	if !c.submit(action) {
		c.mu.Lock()
		c.rejected++
		c.mu.Unlock()
	}
	return nil
}

func (c *ReactiveController) Shutdown() {}

// Rejected counts actions the environment refused.
func (c *ReactiveController) Rejected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rejected
}

// RandomPolicy picks uniformly from a fixed action set.
type RandomPolicy struct {
	mu      sync.Mutex
	rng     *rand.Rand
	actions []core.Action
}

func NewRandomPolicy(seed int64, actions ...core.Action) *RandomPolicy {
	return &RandomPolicy{
		rng:     rand.New(rand.NewSource(seed)),
		actions: actions,
	}
}

func (p *RandomPolicy) Decide(ctx context.Context, obs Observation) (core.Action, error) {
	if len(p.actions) == 0 {
		return core.NoOp, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.actions[p.rng.Intn(len(p.actions))], nil
}
