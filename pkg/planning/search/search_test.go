package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/planning"
)

type arc struct {
	to   string
	cost float64
}

// graph is an explicit weighted digraph; nodes satisfy a goal equal to their
// name.
type graph map[string][]arc

type vertex struct {
	g    graph
	name string
}

func (v vertex) Key() string { return v.name }

func (v vertex) Satisfies(goal planning.Goal) bool { return goal == v.name }

func (v vertex) Successors() []Edge {
	var edges []Edge
	for _, a := range v.g[v.name] {
		edges = append(edges, Edge{
			Operator: planning.Operator{Name: "goto", Args: []string{a.to}},
			Cost:     a.cost,
			Next:     vertex{g: v.g, name: a.to},
		})
	}
	return edges
}

func problem(g graph, from, to string) planning.Problem {
	return planning.Problem{Name: from + "->" + to, Goal: to, Initial: vertex{g: g, name: from}}
}

func names(ops []planning.Operator) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Args[0]
	}
	return out
}

func TestSearch(t *testing.T) {
	g := graph{
		"a": {{"b", 1}, {"c", 5}},
		"b": {{"c", 1}, {"d", 7}},
		"c": {{"d", 1}, {"a", 1}},
		"e": {{"a", 1}},
	}
	p := New(WithLogger(zap.NewNop().Sugar()))
	ctx := context.Background()

	t.Run("test cheapest path is found", func(t *testing.T) {
		res, err := p.Search(ctx, problem(g, "a", "d"))
		require.NoError(t, err)
		best, ok := res.Best()
		require.True(t, ok)
		assert.Equal(t, []string{"b", "c", "d"}, names(best.Operators))
		assert.Equal(t, 3.0, best.Cost)
	})

	t.Run("test start already satisfies the goal", func(t *testing.T) {
		res, err := p.Search(ctx, problem(g, "a", "a"))
		require.NoError(t, err)
		best, ok := res.Best()
		require.True(t, ok)
		assert.Empty(t, best.Operators)
	})

	t.Run("test unreachable goal gives an empty result", func(t *testing.T) {
		res, err := p.Search(ctx, problem(g, "a", "e"))
		require.NoError(t, err)
		assert.Empty(t, res.Plans)
	})

	t.Run("test initial state must be a node", func(t *testing.T) {
		_, err := p.Search(ctx, planning.Problem{Name: "bad", Initial: 3})
		assert.ErrorContains(t, err, "is not a search node")
	})

	t.Run("test expansion limit", func(t *testing.T) {
		limited := New(WithMaxExpansions(1), WithLogger(zap.NewNop().Sugar()))
		_, err := limited.Search(ctx, problem(g, "a", "d"))
		assert.ErrorIs(t, err, ErrExpansionLimit)
	})

	t.Run("test cancelled context stops the search", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Search(cancelled, problem(g, "a", "d"))
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("test plan runs as a task", func(t *testing.T) {
		out, err := p.Plan(ctx, "graph", problem(g, "b", "a")).Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, planning.StatusSucceeded, out.Status)
		best, _ := out.Value.Best()
		assert.Equal(t, []string{"c", "a"}, names(best.Operators))
	})
}
