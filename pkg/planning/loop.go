package planning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/logger"
	"github.com/boristopalov/agentsim/pkg/metrics"
)

// Loop states.
const (
	StateNoPlan        = "no_plan"
	StatePlanning      = "planning"
	StatePlanReady     = "plan_ready"
	StatePlanEmpty     = "plan_empty"
	StatePlanException = "plan_exception"
)

const (
	eventPlan    = "plan"
	eventSucceed = "succeed"
	eventEmpty   = "empty"
	eventFail    = "fail"
	eventReset   = "reset"
)

// Stats counts what happened inside one loop.
type Stats struct {
	PlanningStarted     int
	PlansReady          int
	NoPlans             int
	Exceptions          int
	Cancelled           int
	ValidationFailures  int
	TranslationFailures int
	ActionsIssued       int
	LastPlanLength      int
	LastLatency         time.Duration
	LastError           error
}

type queuedAction struct {
	action core.Action
	// op indexes the operator this action was translated from.
	op int
}

// Loop is the planning strategy behind a planning controller. It owns the
// outstanding planning task, the operator queue and the primitive action
// queue derived from it. A Loop is bound to exactly one body.
type Loop struct {
	rep        Representation
	planner    Planner
	validation ValidationMethod
	validator  Validator
	logger     *zap.SugaredLogger
	now        func() time.Time

	// synchronous makes Next wait for the outstanding task.
	synchronous bool

	machine *fsm.FSM

	mu          sync.Mutex
	body        core.Body
	env         *environment.Environment
	task        *Task[Result]
	taskStarted time.Time
	taskProblem Problem
	planProblem Problem
	ops         []Operator
	queue       []queuedAction
	stats       Stats
	shutdown    bool
}

type LoopOption func(*Loop)

func WithValidation(method ValidationMethod) LoopOption {
	return func(l *Loop) {
		l.validation = method
	}
}

// WithValidator sets the checker used by ValidationExternal.
func WithValidator(v Validator) LoopOption {
	return func(l *Loop) {
		l.validator = v
	}
}

// WithSynchronousPlanning makes Next wait for the planning task instead of
// polling it, so a plan is available in the notification that needs it.
// Meant for synchronous pacing, where steps do not wait for wall-clock time.
func WithSynchronousPlanning() LoopOption {
	return func(l *Loop) {
		l.synchronous = true
	}
}

func WithLoopLogger(log *zap.SugaredLogger) LoopOption {
	return func(l *Loop) {
		l.logger = log
	}
}

func withClock(now func() time.Time) LoopOption {
	return func(l *Loop) {
		l.now = now
	}
}

// NewLoop builds a loop. It fails for validation methods that cannot run.
func NewLoop(rep Representation, planner Planner, opts ...LoopOption) (*Loop, error) {
	if rep == nil {
		return nil, fmt.Errorf("representation is required")
	}
	if planner == nil {
		return nil, fmt.Errorf("planner is required")
	}

	l := &Loop{
		rep:        rep,
		planner:    planner,
		validation: ValidationNone,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.For(logger.ComponentPlanning)
	}

	switch l.validation {
	case ValidationNone, ValidationSimulationWholePlan:
	case ValidationExternal:
		if l.validator == nil {
			return nil, fmt.Errorf("validation %q needs a validator", l.validation)
		}
	default:
		return nil, fmt.Errorf("%q: %w", l.validation, ErrUnsupportedValidation)
	}

	l.machine = fsm.NewFSM(
		StateNoPlan,
		fsm.Events{
			{Name: eventPlan, Src: []string{StateNoPlan}, Dst: StatePlanning},
			{Name: eventSucceed, Src: []string{StatePlanning}, Dst: StatePlanReady},
			{Name: eventEmpty, Src: []string{StatePlanning}, Dst: StatePlanEmpty},
			{Name: eventFail, Src: []string{StatePlanning}, Dst: StatePlanException},
			{Name: eventReset, Src: []string{StatePlanning, StatePlanReady, StatePlanEmpty, StatePlanException}, Dst: StateNoPlan},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				l.logger.Debugf("Planning loop %s -> %s", e.Src, e.Dst)
			},
			"enter_" + StatePlanException: func(_ context.Context, e *fsm.Event) {
				l.logger.Warnf("Planning task failed for body %s", l.body)
			},
		},
	)
	return l, nil
}

// Bind attaches the loop to its body and environment.
func (l *Loop) Bind(body core.Body, env *environment.Environment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.body = body
	l.env = env
	l.rep.SetEnvironment(env)
}

// Start triggers the first planning task.
func (l *Loop) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startPlanning(ctx)
}

// StartPlanning cancels any outstanding task and plans again from the
// current state.
func (l *Loop) StartPlanning(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startPlanning(ctx)
}

// Next runs one notification's worth of planning work and returns the
// primitive action to submit, if any. It never blocks on the planning task
// unless the loop plans synchronously.
func (l *Loop) Next(ctx context.Context) (core.Action, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.shutdown || l.env == nil {
		return core.Action{}, false
	}

	l.awaitTask(ctx)
	l.pollTask()

	if len(l.queue) == 0 && l.task == nil {
		l.startPlanning(ctx)
		if l.synchronous {
			l.awaitTask(ctx)
			l.pollTask()
		}
	}

	if len(l.queue) == 0 {
		return core.Action{}, false
	}

	if err := l.validate(ctx); err != nil {
		l.stats.ValidationFailures++
		l.stats.LastError = err
		metrics.IncValidationFailure(l.rep.Domain(), string(l.validation))
		l.logger.Infof("Discarding plan for body %s: %v", l.body, err)
		l.clearPlan()
		return core.Action{}, false
	}

	next := l.queue[0]
	l.queue = l.queue[1:]
	if len(l.queue) == 0 {
		l.ops = nil
	}
	l.stats.ActionsIssued++
	return next.action, true
}

// Invalidate drops the current plan, e.g. after the real environment refused
// one of its actions. Planning restarts on the next notification.
func (l *Loop) Invalidate(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 && len(l.ops) == 0 {
		return
	}
	l.stats.ValidationFailures++
	l.stats.LastError = fmt.Errorf("%s: %w", reason, core.ErrValidationFault)
	metrics.IncValidationFailure(l.rep.Domain(), "rejected")
	l.clearPlan()
}

// Shutdown cancels the outstanding task. The loop issues no more actions.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdown = true
	l.cancelTask()
}

// State returns the current planning state.
func (l *Loop) State() string {
	return l.machine.Current()
}

func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Pending returns a copy of the primitive actions still queued.
func (l *Loop) Pending() []core.Action {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.Action, len(l.queue))
	for i, q := range l.queue {
		out[i] = q.action
	}
	return out
}

// Operators returns a copy of the operators of the current plan that still
// have queued actions.
func (l *Loop) Operators() []Operator {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Operator(nil), l.remainingOps()...)
}

// PlanningInFlight reports whether a planning task is outstanding.
func (l *Loop) PlanningInFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.task != nil
}

func (l *Loop) startPlanning(ctx context.Context) {
	if l.shutdown || l.env == nil {
		return
	}
	l.cancelTask()

	if l.env.IsRemoved(l.body) || l.env.IsTerminal() {
		return
	}
	goal, ok := l.nextGoal()
	if !ok {
		return
	}
	problem, err := l.rep.Problem(l.body, goal)
	if err != nil {
		l.stats.Exceptions++
		l.stats.LastError = fmt.Errorf("building problem: %v: %w", err, core.ErrPlanningFault)
		metrics.IncPlanningOutcome(l.rep.Domain(), metrics.OutcomeException)
		l.logger.Warnf("Could not build planning problem for body %s: %v", l.body, err)
		return
	}

	l.fire(eventPlan)
	l.taskProblem = problem
	l.taskStarted = l.now()
	l.task = l.planner.Plan(ctx, l.rep.Domain(), problem)
	l.stats.PlanningStarted++
}

// cancelTask drops the outstanding task. A task that already finished is
// discarded without counting as cancelled.
func (l *Loop) cancelTask() {
	if l.task == nil {
		return
	}
	finished := l.task.Status().Finished()
	l.task.Cancel()
	l.task = nil
	if !finished {
		l.stats.Cancelled++
		metrics.IncPlanningOutcome(l.rep.Domain(), metrics.OutcomeCancelled)
	}
	l.fire(eventReset)
}

func (l *Loop) awaitTask(ctx context.Context) {
	if !l.synchronous || l.task == nil {
		return
	}
	if _, err := l.task.Wait(ctx); err != nil {
		l.logger.Debugf("Stopped waiting for plan of body %s: %v", l.body, err)
	}
}

func (l *Loop) pollTask() {
	if l.task == nil {
		return
	}
	out, finished := l.task.Poll()
	if !finished {
		return
	}
	l.task = nil
	latency := l.now().Sub(l.taskStarted)
	domain := l.rep.Domain()

	switch out.Status {
	case StatusCancelled:
		l.stats.Cancelled++
		metrics.IncPlanningOutcome(domain, metrics.OutcomeCancelled)
		l.fire(eventReset)

	case StatusFailed:
		l.fire(eventFail)
		l.stats.Exceptions++
		l.stats.LastError = fmt.Errorf("%v: %w", out.Err, core.ErrPlanningFault)
		metrics.IncPlanningOutcome(domain, metrics.OutcomeException)
		l.fire(eventReset)

	case StatusSucceeded:
		best, ok := out.Value.Best()
		if !ok || len(best.Operators) == 0 {
			l.fire(eventEmpty)
			l.stats.NoPlans++
			metrics.IncPlanningOutcome(domain, metrics.OutcomeEmpty)
			l.fire(eventReset)
			return
		}

		l.fire(eventSucceed)
		queue, err := l.translate(best.Operators)
		if err != nil {
			l.stats.TranslationFailures++
			l.stats.LastError = fmt.Errorf("translating plan: %v: %w", err, core.ErrValidationFault)
			metrics.IncTranslationFailure(domain)
			l.logger.Warnf("Could not translate plan for body %s: %v", l.body, err)
			l.clearPlan()
			l.fire(eventReset)
			return
		}

		l.ops = append([]Operator(nil), best.Operators...)
		l.queue = queue
		l.planProblem = l.taskProblem
		l.stats.PlansReady++
		l.stats.LastPlanLength = len(queue)
		l.stats.LastLatency = latency
		metrics.ObservePlan(domain, len(queue), latency)
		l.logger.Debugf("Body %s got a plan with %d operators (%d actions) after %s", l.body, len(best.Operators), len(queue), latency)
		l.fire(eventReset)
	}
}

func (l *Loop) translate(ops []Operator) ([]queuedAction, error) {
	var queue []queuedAction
	for i, op := range ops {
		actions, err := l.rep.Translate(op, l.body)
		if err != nil {
			return nil, fmt.Errorf("operator %d (%s): %w", i, op, err)
		}
		for _, a := range actions {
			queue = append(queue, queuedAction{action: a, op: i})
		}
	}
	return queue, nil
}

func (l *Loop) validate(ctx context.Context) error {
	switch l.validation {
	case ValidationExternal:
		ok, err := l.validator.Validate(ctx, l.planProblem, l.remainingOps())
		if err != nil {
			return fmt.Errorf("external validator: %v: %w", err, core.ErrValidationFault)
		}
		if !ok {
			return fmt.Errorf("external validator rejected plan: %w", core.ErrValidationFault)
		}
		return nil
	case ValidationSimulationWholePlan:
		return l.simulate()
	default:
		return nil
	}
}

// simulate replays every queued action against an isolated copy of the
// environment and requires the plan to end in its goal.
func (l *Loop) simulate() error {
	sim := l.env.Clone()
	rep := l.rep.CloneForSimulation()
	rep.SetEnvironment(sim)

	for i, q := range l.queue {
		if sim.IsTerminal() {
			break
		}
		if !sim.SubmitAction(l.body, q.action) {
			return fmt.Errorf("action %d (%s) rejected in simulation: %w", i+1, q.action, core.ErrValidationFault)
		}
		if _, err := sim.Step(); err != nil {
			return fmt.Errorf("simulation step %d: %v: %w", i+1, err, core.ErrValidationFault)
		}
		if sim.LastActionFailed(l.body) {
			return fmt.Errorf("action %d (%s) failed in simulation: %w", i+1, q.action, core.ErrValidationFault)
		}
	}
	if !rep.IsGoalState(l.body, l.planProblem.Goal) {
		return fmt.Errorf("plan does not reach goal %v: %w", l.planProblem.Goal, core.ErrValidationFault)
	}
	return nil
}

func (l *Loop) nextGoal() (Goal, bool) {
	for _, g := range l.rep.RelevantGoals(l.body) {
		if !l.rep.IsGoalState(l.body, g) {
			return g, true
		}
	}
	return nil, false
}

func (l *Loop) remainingOps() []Operator {
	if len(l.queue) == 0 {
		return nil
	}
	return l.ops[l.queue[0].op:]
}

func (l *Loop) clearPlan() {
	l.ops = nil
	l.queue = nil
}

func (l *Loop) fire(event string) {
	err := l.machine.Event(context.Background(), event)
	if err == nil {
		return
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return
	}
	l.logger.Errorf("Planning loop transition %q from %q failed: %v", event, l.machine.Current(), err)
}
