// Package search implements a uniform-cost search planner over explicit
// state graphs supplied by a domain representation.
package search

import (
	"container/heap"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/logger"
	"github.com/boristopalov/agentsim/pkg/planning"
)

// Node is one state of the search space.
type Node interface {
	// Key identifies equivalent states.
	Key() string
	// Successors lists outgoing edges in a deterministic order.
	Successors() []Edge
	Satisfies(goal planning.Goal) bool
}

// Edge applies an operator to reach the next state.
type Edge struct {
	Operator planning.Operator
	Cost     float64
	Next     Node
}

var ErrExpansionLimit = errors.New("search expansion limit reached")

const defaultMaxExpansions = 100000

type Planner struct {
	maxExpansions int
	logger        *zap.SugaredLogger
}

type Option func(*Planner)

func WithMaxExpansions(n int) Option {
	return func(p *Planner) {
		p.maxExpansions = n
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Planner) {
		p.logger = l
	}
}

func New(opts ...Option) *Planner {
	p := &Planner{maxExpansions: defaultMaxExpansions}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.For(logger.ComponentPlanning).Named("search")
	}
	return p
}

// Plan runs Search on its own goroutine.
func (p *Planner) Plan(ctx context.Context, domain string, problem planning.Problem) *planning.Task[planning.Result] {
	return planning.Go(ctx, func(ctx context.Context) (planning.Result, error) {
		return p.Search(ctx, problem)
	})
}

// Search returns the cheapest plan from problem.Initial to problem.Goal, or an
// empty result when the goal is unreachable.
func (p *Planner) Search(ctx context.Context, problem planning.Problem) (planning.Result, error) {
	start, ok := problem.Initial.(Node)
	if !ok {
		return planning.Result{}, fmt.Errorf("problem %q: initial state %T is not a search node", problem.Name, problem.Initial)
	}

	frontier := &queue{}
	heap.Push(frontier, &entry{node: start})
	best := map[string]float64{start.Key(): 0}
	closed := make(map[string]bool)
	var seq int

	for expansions := 0; frontier.Len() > 0; expansions++ {
		if expansions%64 == 0 {
			if err := ctx.Err(); err != nil {
				return planning.Result{}, err
			}
		}
		if p.maxExpansions > 0 && expansions >= p.maxExpansions {
			return planning.Result{}, fmt.Errorf("problem %q after %d expansions: %w", problem.Name, expansions, ErrExpansionLimit)
		}

		current := heap.Pop(frontier).(*entry)
		key := current.node.Key()
		if closed[key] {
			continue
		}
		closed[key] = true

		if current.node.Satisfies(problem.Goal) {
			plan := planning.Plan{Operators: current.path(), Cost: current.cost}
			p.logger.Debugf("Solved %q with cost %.1f after %d expansions", problem.Name, plan.Cost, expansions)
			return planning.Result{Plans: []planning.Plan{plan}}, nil
		}

		for _, edge := range current.node.Successors() {
			nextKey := edge.Next.Key()
			if closed[nextKey] {
				continue
			}
			cost := current.cost + edge.Cost
			if known, ok := best[nextKey]; ok && known <= cost {
				continue
			}
			best[nextKey] = cost
			seq++
			heap.Push(frontier, &entry{node: edge.Next, cost: cost, seq: seq, parent: current, op: edge.Operator})
		}
	}

	p.logger.Debugf("No plan for %q", problem.Name)
	return planning.Result{}, nil
}

type entry struct {
	node   Node
	cost   float64
	seq    int
	parent *entry
	op     planning.Operator
}

func (e *entry) path() []planning.Operator {
	var ops []planning.Operator
	for cur := e; cur.parent != nil; cur = cur.parent {
		ops = append(ops, cur.op)
	}
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops
}

// queue orders entries by cost, then by insertion so results are deterministic.
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].seq < q[j].seq
}

func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x any) { *q = append(*q, x.(*entry)) }

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
