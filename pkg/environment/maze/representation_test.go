package maze

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/planning"
	"github.com/boristopalov/agentsim/pkg/planning/search"
)

const elbow = `
#####
#S..#
###.#
#G..#
#####
`

func TestRepresentation(t *testing.T) {
	t.Run("test search finds corridor plan", func(t *testing.T) {
		env, body := newEnv(t, elbow)
		rep := NewRepresentation()
		rep.SetEnvironment(env)

		goals := rep.RelevantGoals(body)
		require.Len(t, goals, 1)
		problem, err := rep.Problem(body, goals[0])
		require.NoError(t, err)
		assert.Contains(t, problem.Description, "#A..#")

		planner := search.New(search.WithLogger(zap.NewNop().Sugar()))
		result, err := planner.Search(context.Background(), problem)
		require.NoError(t, err)
		best, ok := result.Best()
		require.True(t, ok)

		want := []planning.Operator{
			{Name: OpGo, Args: []string{"east", "2"}},
			{Name: OpGo, Args: []string{"south", "2"}},
			{Name: OpGo, Args: []string{"west", "2"}},
		}
		if diff := cmp.Diff(want, best.Operators); diff != "" {
			t.Errorf("plan mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, 6.0, best.Cost)
	})

	t.Run("test translation is deterministic", func(t *testing.T) {
		rep := NewRepresentation()
		op := planning.Operator{Name: OpGo, Args: []string{"south", "3"}}
		body := core.NewBody(0, Walker)

		first, err := rep.Translate(op, body)
		require.NoError(t, err)
		second, err := rep.Translate(op, body)
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, []core.Action{Move(South), Move(South), Move(South)}, first)

		single, err := rep.Translate(planning.Operator{Name: OpMove, Args: []string{"WEST"}}, body)
		require.NoError(t, err)
		assert.Equal(t, []core.Action{Move(West)}, single)
	})

	t.Run("test translation errors", func(t *testing.T) {
		rep := NewRepresentation()
		body := core.NewBody(0, Walker)
		for _, op := range []planning.Operator{
			{Name: "jump"},
			{Name: OpGo, Args: []string{"up", "1"}},
			{Name: OpGo, Args: []string{"east", "0"}},
			{Name: OpGo, Args: []string{"east"}},
			{Name: OpMove},
		} {
			_, err := rep.Translate(op, body)
			assert.Error(t, err, op.String())
		}
	})

	t.Run("test goal state and relevant goals", func(t *testing.T) {
		env, body := newEnv(t, corridor)
		rep := NewRepresentation()
		rep.SetEnvironment(env)

		goal := Cell{5, 1}
		assert.False(t, rep.IsGoalState(body, goal))
		for i := 0; i < 4; i++ {
			require.True(t, env.SubmitAction(body, Move(East)))
			_, err := env.Step()
			require.NoError(t, err)
		}
		assert.True(t, rep.IsGoalState(body, goal))
		assert.Empty(t, rep.RelevantGoals(body))
	})

	t.Run("test unbound representation", func(t *testing.T) {
		rep := NewRepresentation()
		_, err := rep.Problem(core.NewBody(0, Walker), Cell{1, 1})
		assert.Error(t, err)
		assert.Empty(t, rep.RelevantGoals(core.NewBody(0, Walker)))
	})
}
