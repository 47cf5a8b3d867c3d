package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/planning"
)

// PlanningController acts by following plans produced by a planning.Loop.
// Planning runs in the background; each notification issues at most one
// primitive action from the current plan.
type PlanningController struct {
	base
	loop *planning.Loop
}

var _ Controller = (*PlanningController)(nil)

func NewPlanningController(loop *planning.Loop, opts ...Option) *PlanningController {
	return &PlanningController{
		base: newBase(opts),
		loop: loop,
	}
}

func (c *PlanningController) Init(body core.Body, env *environment.Environment, stepDelay time.Duration) error {
	if c.loop == nil {
		return fmt.Errorf("planning controller for %s has no planning loop", body)
	}
	c.init(body, env, stepDelay)
	c.loop.Bind(body, env)
	return nil
}

func (c *PlanningController) Start(ctx context.Context) error {
	c.loop.Start(ctx)
	return nil
}

func (c *PlanningController) OnReward(ctx context.Context, reward float64) error {
	action, ok := c.loop.Next(ctx)
	if !ok {
		return nil
	}
	if !c.submit(action) {
		c.loop.Invalidate(fmt.Sprintf("environment rejected %s", action))
	}
	return nil
}

func (c *PlanningController) Shutdown() {
	c.loop.Shutdown()
}

func (c *PlanningController) Loop() *planning.Loop {
	return c.loop
}
