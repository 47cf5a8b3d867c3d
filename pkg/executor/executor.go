// Package executor drives an environment through time and notifies the
// controllers bound to it after every step.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/agent"
	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/logger"
	"github.com/boristopalov/agentsim/pkg/messaging"
	"github.com/boristopalov/agentsim/pkg/metrics"
)

// Executor states.
const (
	StateIdle             = "idle"
	StateRunning          = "running"
	StateStoppedNormal    = "stopped_normal"
	StateStoppedMaxSteps  = "stopped_max_steps"
	StateStoppedError     = "stopped_error"
	StateStoppedCancelled = "stopped_cancelled"
)

const (
	eventStart    = "start"
	eventFinish   = "finish"
	eventExhaust  = "exhaust"
	eventFail     = "fail"
	eventCancel   = "cancel"
	brokerSubject = "executor"
)

var stopEvents = map[string]string{
	StateStoppedNormal:    eventFinish,
	StateStoppedMaxSteps:  eventExhaust,
	StateStoppedError:     eventFail,
	StateStoppedCancelled: eventCancel,
}

// binding pairs a controller with its body and tracks what it received.
type binding struct {
	id         string
	body       core.Body
	controller agent.Controller

	mu       sync.Mutex
	total    float64
	disabled bool
	closed   bool
	fault    error
}

// accept counts a reward that is about to be handed to the controller.
func (b *binding) accept(reward float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disabled || b.closed {
		return false
	}
	b.total += reward
	return true
}

func (b *binding) enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.disabled
}

// Executor is single use: bind controllers, then Run once.
type Executor struct {
	env     *environment.Environment
	opts    options
	logger  *zap.SugaredLogger
	runID   string
	machine *fsm.FSM
	monitor *monitor

	// stepMu serializes env.Step.
	stepMu sync.Mutex

	mu            sync.Mutex
	bindings      []*binding
	cancel        context.CancelFunc
	stopRequested bool
	steps         uint64
}

func New(env *environment.Environment, opts ...Option) (*Executor, error) {
	if env == nil {
		return nil, errors.New("environment is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.stepDelay <= 0 {
		return nil, fmt.Errorf("step delay must be positive, got %s", o.stepDelay)
	}
	if o.maxInstances < 1 {
		return nil, fmt.Errorf("max notification instances must be at least 1, got %d", o.maxInstances)
	}
	if o.driftTolerance < 1 {
		return nil, fmt.Errorf("drift tolerance must be at least 1, got %.2f", o.driftTolerance)
	}
	if o.shutdownTimeout <= 0 {
		o.shutdownTimeout = 2 * o.stepDelay
	}

	e := &Executor{
		env:     env,
		opts:    o,
		runID:   uuid.NewString(),
		monitor: newMonitor(o.maxInstances),
	}
	e.logger = o.logger
	if e.logger == nil {
		e.logger = logger.For(logger.ComponentExecutor)
	}
	e.logger = e.logger.With("run", e.runID)

	e.machine = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: eventFinish, Src: []string{StateRunning}, Dst: StateStoppedNormal},
			{Name: eventExhaust, Src: []string{StateRunning}, Dst: StateStoppedMaxSteps},
			{Name: eventFail, Src: []string{StateRunning}, Dst: StateStoppedError},
			{Name: eventCancel, Src: []string{StateRunning}, Dst: StateStoppedCancelled},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				e.logger.Debugf("Executor %s -> %s", ev.Src, ev.Dst)
			},
		},
	)
	return e, nil
}

func (e *Executor) RunID() string {
	return e.runID
}

func (e *Executor) State() string {
	return e.machine.Current()
}

// Bind creates a body of the given type and hands it to the controller. The
// controller is identified as "<type>-<body id>".
func (e *Executor) Bind(agentType core.AgentType, controller agent.Controller) (core.Body, error) {
	if controller == nil {
		return core.Body{}, errors.New("controller is required")
	}
	if state := e.State(); state != StateIdle {
		return core.Body{}, fmt.Errorf("cannot bind controllers while %s", state)
	}

	body, err := e.env.CreateBody(agentType)
	if err != nil {
		return core.Body{}, err
	}
	if err := controller.Init(body, e.env, e.opts.stepDelay); err != nil {
		if rmErr := e.env.RemoveBody(body, 0); rmErr != nil {
			e.logger.Warnf("Could not remove body %s after failed init: %v", body, rmErr)
		}
		return core.Body{}, fmt.Errorf("failed to init controller for %s: %w", body, err)
	}

	b := &binding{
		id:         fmt.Sprintf("%s-%d", agentType.Name, body.ID()),
		body:       body,
		controller: controller,
	}
	e.mu.Lock()
	e.bindings = append(e.bindings, b)
	e.mu.Unlock()
	e.logger.Debugf("Bound controller %s", b.id)
	return body, nil
}

// Stop asks a running executor to stop after the current step.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopRequested = true
	if e.cancel != nil {
		e.cancel()
	}
}

// Run steps the environment until it is terminal, the step budget is spent,
// the run is cancelled or a scheduling fault occurs. It always returns a
// result; the error is the one recorded in the result.
func (e *Executor) Run(ctx context.Context) (*core.ExecutionResult, error) {
	if err := e.machine.Event(ctx, eventStart); err != nil {
		return nil, fmt.Errorf("executor cannot run from state %s: %w", e.State(), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancel = cancel
	if e.stopRequested {
		cancel()
	}
	bindings := append([]*binding(nil), e.bindings...)
	e.mu.Unlock()

	dispatch := e.newDispatcher(len(bindings))
	result := &core.ExecutionResult{
		RunID:     e.runID,
		StartTime: time.Now(),
	}

	ids := make([]string, len(bindings))
	for i, b := range bindings {
		ids[i] = b.id
	}
	e.publish(messaging.KindRunStarted, messaging.RunStarted{RunID: e.runID, Controllers: ids})
	e.logger.Infof("Starting run with %d controllers (pacing=%s dispatch=%s delay=%s)", len(bindings), e.opts.pacing, e.opts.dispatch, e.opts.stepDelay)

	for _, b := range bindings {
		if err := e.start(ctx, b); err != nil {
			e.disable(b, err, "start")
		}
	}

	state, runErr := e.loop(ctx, bindings, dispatch)

	if !dispatch.wait(e.opts.shutdownTimeout) {
		e.logger.Warnf("Notifications still in flight after %s", e.opts.shutdownTimeout)
	}
	for _, b := range bindings {
		e.shutdown(b)
	}
	cancel()

	if err := e.machine.Event(context.Background(), stopEvents[state]); err != nil {
		e.logger.Errorf("Executor transition to %s failed: %v", state, err)
	}

	result.EndTime = time.Now()
	result.FinalState = state
	result.StepsElapsed = e.stepCount()
	result.Err = runErr
	for _, b := range bindings {
		b.mu.Lock()
		b.closed = true
		result.Controllers = append(result.Controllers, core.ControllerResult{
			ControllerID: b.id,
			Body:         b.body,
			TotalReward:  b.total,
			Disabled:     b.disabled,
			Fault:        b.fault,
		})
		b.mu.Unlock()
	}

	e.publish(messaging.KindRunStopped, messaging.RunStopped{RunID: e.runID, State: state, Steps: result.StepsElapsed, Err: runErr})
	if runErr != nil {
		e.logger.Errorf("Run stopped in %s after %d steps: %v", state, result.StepsElapsed, runErr)
	} else {
		e.logger.Infof("Run stopped in %s after %d steps", state, result.StepsElapsed)
	}
	return result, runErr
}

func (e *Executor) newDispatcher(controllers int) dispatcher {
	if e.opts.dispatch == SyncDispatch {
		return syncDispatcher{}
	}
	workers := e.opts.workers
	if workers <= 0 {
		workers = controllers * (e.opts.maxInstances + 1)
	}
	if workers < 1 {
		workers = 1
	}
	return newAsyncDispatcher(workers)
}

func (e *Executor) loop(ctx context.Context, bindings []*binding, dispatch dispatcher) (string, error) {
	var tick <-chan time.Time
	if e.opts.pacing == RealTime {
		ticker := time.NewTicker(e.opts.stepDelay)
		defer ticker.Stop()
		tick = ticker.C
	}
	limit := time.Duration(float64(e.opts.stepDelay) * e.opts.driftTolerance)
	var lastStart time.Time

	for {
		if e.env.IsTerminal() {
			return StateStoppedNormal, nil
		}
		if e.opts.maxSteps > 0 && e.stepCount() >= e.opts.maxSteps {
			return StateStoppedMaxSteps, nil
		}
		if len(bindings) > 0 && !anyEnabled(bindings) {
			e.logger.Infof("Every controller is disabled")
			return StateStoppedNormal, nil
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return StateStoppedCancelled, nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return StateStoppedCancelled, nil
		}

		start := time.Now()
		if !lastStart.IsZero() {
			gap := start.Sub(lastStart)
			metrics.ObserveInterStepDelay(e.runID, gap)
			if tick != nil && !e.opts.debug && gap > limit {
				metrics.IncSchedulingFault("drift")
				return StateStoppedError, fmt.Errorf("step %d started %s after the previous step, limit is %s: %w",
					e.stepCount()+1, gap, limit, core.ErrSchedulingFault)
			}
		}
		lastStart = start

		rewards, err := e.step()
		if err != nil {
			return StateStoppedError, err
		}
		metrics.ObserveStep(e.runID, time.Since(start))

		delivered, err := e.notify(ctx, bindings, rewards, dispatch)
		if err != nil {
			return StateStoppedError, err
		}
		e.publish(messaging.KindStepCompleted, messaging.StepCompleted{
			RunID:    e.runID,
			Step:     e.stepCount(),
			Rewards:  delivered,
			Duration: time.Since(start),
		})
	}
}

func anyEnabled(bindings []*binding) bool {
	for _, b := range bindings {
		if b.enabled() {
			return true
		}
	}
	return false
}

func (e *Executor) step() (map[core.Body]float64, error) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	rewards, err := e.env.Step()
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", e.stepCount()+1, err)
	}
	e.mu.Lock()
	e.steps++
	e.mu.Unlock()
	return rewards, nil
}

func (e *Executor) stepCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps
}

// notify dispatches one notification per enabled controller. A reward map
// without an entry for a live body is a scheduling fault.
func (e *Executor) notify(ctx context.Context, bindings []*binding, rewards map[core.Body]float64, dispatch dispatcher) (map[string]float64, error) {
	dispatched := make(map[string]float64, len(bindings))
	for _, b := range bindings {
		if !b.enabled() || e.env.IsRemoved(b.body) {
			continue
		}
		reward, ok := rewards[b.body]
		if !ok {
			metrics.IncSchedulingFault("missing_reward")
			return dispatched, fmt.Errorf("step %d produced no reward for %s: %w", e.stepCount(), b.body, core.ErrSchedulingFault)
		}

		if !dispatch.dispatch(func() { e.deliver(ctx, b, reward) }) {
			e.logger.Warnf("Worker pool is full, skipping notification for %s", b.id)
			metrics.IncSchedulingFault("pool_full")
			continue
		}
		dispatched[b.id] = reward
	}
	return dispatched, nil
}

// deliver is one notification task.
func (e *Executor) deliver(ctx context.Context, b *binding, reward float64) {
	n, ok := e.monitor.enter(b.id)
	defer e.monitor.leave(b.id)
	if !ok {
		e.disable(b, fmt.Errorf("controller %s has %d notifications in flight, ceiling is %d: %w",
			b.id, n, e.opts.maxInstances, core.ErrControllerFault), "backpressure")
		return
	}
	if !b.accept(reward) {
		return
	}
	metrics.IncNotification(b.id)
	if err := e.invoke(ctx, b, reward); err != nil {
		e.disable(b, err, "handler")
	}
}

func (e *Executor) invoke(ctx context.Context, b *binding, reward float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("controller %s panicked: %v: %w", b.id, r, core.ErrControllerFault)
		}
	}()
	if err := b.controller.OnReward(ctx, reward); err != nil {
		return fmt.Errorf("controller %s failed: %w: %w", b.id, err, core.ErrControllerFault)
	}
	return nil
}

func (e *Executor) start(ctx context.Context, b *binding) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("controller %s panicked on start: %v: %w", b.id, r, core.ErrControllerFault)
		}
	}()
	if err := b.controller.Start(ctx); err != nil {
		return fmt.Errorf("controller %s failed to start: %w: %w", b.id, err, core.ErrControllerFault)
	}
	return nil
}

func (e *Executor) shutdown(b *binding) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorf("Controller %s panicked on shutdown: %v", b.id, r)
		}
	}()
	b.controller.Shutdown()
}

// disable stops dispatching to a controller, freezes its total and takes its
// body out of the environment.
func (e *Executor) disable(b *binding, fault error, reason string) {
	b.mu.Lock()
	if b.disabled {
		b.mu.Unlock()
		return
	}
	b.disabled = true
	b.fault = fault
	b.mu.Unlock()

	e.logger.Warnf("Disabling controller %s: %v", b.id, fault)
	metrics.IncControllerDisabled(reason)
	if !e.env.IsRemoved(b.body) {
		if err := e.env.RemoveBody(b.body, e.opts.disablePenalty); err != nil {
			e.logger.Warnf("Could not remove body of disabled controller %s: %v", b.id, err)
		}
	}
	e.publish(messaging.KindControllerDisabled, messaging.ControllerDisabled{
		RunID:        e.runID,
		ControllerID: b.id,
		Reason:       fault.Error(),
	})
}

func (e *Executor) publish(kind messaging.Kind, content any) {
	if e.opts.broker == nil {
		return
	}
	err := e.opts.broker.Publish(messaging.Message{
		From:      brokerSubject,
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now(),
	})
	if err != nil {
		e.logger.Debugf("Dropped %s event: %v", kind, err)
	}
}
