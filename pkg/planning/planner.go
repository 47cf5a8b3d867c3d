package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
)

// Operator is a planner-level action. Its meaning is private to the domain's
// representation, which translates it into primitive actions.
type Operator struct {
	Name string
	Args []string
}

func (o Operator) String() string {
	if len(o.Args) == 0 {
		return o.Name
	}
	return o.Name + " " + strings.Join(o.Args, " ")
}

// Plan is an ordered sequence of operators with its total cost.
type Plan struct {
	Operators []Operator
	Cost      float64
}

// Result is what a planner produces for one problem. It may hold several
// candidate plans or none.
type Result struct {
	Plans []Plan
}

// Best returns the minimum-cost plan. Ties go to the earlier plan.
func (r Result) Best() (Plan, bool) {
	if len(r.Plans) == 0 {
		return Plan{}, false
	}
	best := r.Plans[0]
	for _, p := range r.Plans[1:] {
		if p.Cost < best.Cost {
			best = p
		}
	}
	return best, true
}

// Goal is a domain-specific goal description.
type Goal any

// Problem is a snapshot of the world from one body's point of view.
type Problem struct {
	Domain string
	Name   string
	Goal   Goal
	// Initial is a planner-specific view of the start state, e.g. a
	// search.Node for the search planner.
	Initial any
	// Description is a textual rendering for planners that read text.
	Description string
}

// Planner computes plans asynchronously. Cancelling the returned task must
// eventually stop the computation.
type Planner interface {
	Plan(ctx context.Context, domain string, problem Problem) *Task[Result]
}

// PlannerFunc adapts a blocking function into an asynchronous Planner.
type PlannerFunc func(ctx context.Context, domain string, problem Problem) (Result, error)

func (f PlannerFunc) Plan(ctx context.Context, domain string, problem Problem) *Task[Result] {
	return Go(ctx, func(ctx context.Context) (Result, error) {
		return f(ctx, domain, problem)
	})
}

// Representation bridges the environment and the planner for one domain.
type Representation interface {
	Domain() string
	// Problem snapshots the current state for body with the given goal.
	Problem(body core.Body, goal Goal) (Problem, error)
	// Translate turns one operator into primitive actions. It must be
	// deterministic.
	Translate(op Operator, body core.Body) ([]core.Action, error)
	// RelevantGoals lists the goals the body should pursue, in priority order.
	RelevantGoals(body core.Body) []Goal
	IsGoalState(body core.Body, goal Goal) bool
	// CloneForSimulation returns a copy that is not yet bound to an environment.
	CloneForSimulation() Representation
	SetEnvironment(env *environment.Environment)
}

// Validator checks the remaining operators of a plan against an external
// model of the domain.
type Validator interface {
	Validate(ctx context.Context, problem Problem, remaining []Operator) (bool, error)
}

// ValidationMethod selects how stale plans are checked before acting.
type ValidationMethod string

const (
	ValidationNone                ValidationMethod = "none"
	ValidationExternal            ValidationMethod = "external"
	ValidationSimulationWholePlan ValidationMethod = "simulation_whole_plan"
	// ValidationSimulationOneStep is part of the configuration surface but has
	// no defined semantics; loops reject it.
	ValidationSimulationOneStep ValidationMethod = "simulation_one_step"
)

var ErrUnsupportedValidation = errors.New("unsupported validation method")

// ParseValidationMethod accepts the configuration spelling of a method.
// An empty string means ValidationNone.
func ParseValidationMethod(s string) (ValidationMethod, error) {
	switch m := ValidationMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ValidationNone, nil
	case ValidationNone, ValidationExternal, ValidationSimulationWholePlan, ValidationSimulationOneStep:
		return m, nil
	default:
		return "", fmt.Errorf("unknown validation method %q", s)
	}
}
