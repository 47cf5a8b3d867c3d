// Package agent holds the controllers that decide actions for bodies.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/logger"
)

// Controller decides actions for one body. The executor calls Init once when
// binding, Start once before the first step, OnReward once per step with the
// body's reward for that step, and Shutdown when the run ends. OnReward may be
// called concurrently when notifications are dispatched asynchronously.
type Controller interface {
	Init(body core.Body, env *environment.Environment, stepDelay time.Duration) error
	Start(ctx context.Context) error
	OnReward(ctx context.Context, reward float64) error
	Shutdown()
}

type base struct {
	body      core.Body
	env       *environment.Environment
	stepDelay time.Duration
	logger    *zap.SugaredLogger
}

type Option func(*base)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *base) {
		b.logger = l
	}
}

func newBase(opts []Option) base {
	b := base{}
	for _, opt := range opts {
		opt(&b)
	}
	if b.logger == nil {
		b.logger = logger.For(logger.ComponentAgent)
	}
	return b
}

func (b *base) init(body core.Body, env *environment.Environment, stepDelay time.Duration) {
	b.body = body
	b.env = env
	b.stepDelay = stepDelay
	b.logger = b.logger.With("body", body.String())
}

func (b *base) Body() core.Body {
	return b.body
}

// submit forwards an action to the environment. NoOps are not submitted.
func (b *base) submit(action core.Action) bool {
	if action.IsNoOp() {
		return true
	}
	if !b.env.SubmitAction(b.body, action) {
		b.logger.Debugf("Environment rejected %s", action)
		return false
	}
	return true
}
