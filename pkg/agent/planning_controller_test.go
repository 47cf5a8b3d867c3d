package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment/maze"
	"github.com/boristopalov/agentsim/pkg/planning"
	"github.com/boristopalov/agentsim/pkg/planning/search"
)

// stubPlanner answers every problem at once with the same operators. When
// blockFirst is set the first task only ends when it is cancelled.
type stubPlanner struct {
	mu         sync.Mutex
	ops        []planning.Operator
	blockFirst bool
	calls      int
}

func (s *stubPlanner) Plan(ctx context.Context, domain string, problem planning.Problem) *planning.Task[planning.Result] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.blockFirst && s.calls == 1 {
		return planning.Go(ctx, func(ctx context.Context) (planning.Result, error) {
			<-ctx.Done()
			return planning.Result{}, ctx.Err()
		})
	}
	plan := planning.Plan{Operators: s.ops, Cost: float64(len(s.ops))}
	return planning.Completed(planning.Result{Plans: []planning.Plan{plan}}, nil)
}

func move(d maze.Direction) planning.Operator {
	return planning.Operator{Name: maze.OpMove, Args: []string{string(d)}}
}

func newPlanningController(t *testing.T, planner planning.Planner, opts ...planning.LoopOption) *PlanningController {
	t.Helper()
	opts = append(opts, planning.WithLoopLogger(zap.NewNop().Sugar()))
	loop, err := planning.NewLoop(maze.NewRepresentation(), planner, opts...)
	require.NoError(t, err)
	return NewPlanningController(loop, WithLogger(zap.NewNop().Sugar()))
}

func TestPlanningController(t *testing.T) {
	t.Run("test search plan reaches the goal", func(t *testing.T) {
		env, body := newMaze(t)
		ctrl := newPlanningController(t, search.New(search.WithLogger(zap.NewNop().Sugar())))
		require.NoError(t, ctrl.Init(body, env, time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		t.Cleanup(ctrl.Shutdown)
		require.NoError(t, ctrl.Start(ctx))

		for i := 0; i < 500 && !env.IsTerminal(); i++ {
			require.NoError(t, ctrl.OnReward(ctx, 0))
			_, err := env.Step()
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
		}
		require.True(t, env.IsTerminal())
		assert.Equal(t, 4, ctrl.Loop().Stats().ActionsIssued)
		assert.Equal(t, 1, ctrl.Loop().Stats().PlansReady)
	})

	t.Run("test simulation rejects plan before anything is submitted", func(t *testing.T) {
		env, body := newMaze(t)
		planner := &stubPlanner{ops: []planning.Operator{move(maze.East), move(maze.East), move(maze.North)}}
		ctrl := newPlanningController(t, planner, planning.WithValidation(planning.ValidationSimulationWholePlan))
		require.NoError(t, ctrl.Init(body, env, time.Millisecond))
		require.NoError(t, ctrl.Start(context.Background()))

		require.NoError(t, ctrl.OnReward(context.Background(), 0))

		_, pending := env.PendingAction(body)
		assert.False(t, pending)
		assert.Empty(t, ctrl.Loop().Pending())
		assert.Empty(t, ctrl.Loop().Operators())
		stats := ctrl.Loop().Stats()
		assert.Equal(t, 1, stats.PlansReady)
		assert.Equal(t, 1, stats.ValidationFailures)
		assert.Equal(t, 0, stats.ActionsIssued)
		assert.ErrorIs(t, stats.LastError, core.ErrValidationFault)
		assert.ErrorContains(t, stats.LastError, "action 3")
		assert.Equal(t, uint64(0), env.TimeStep())
		assert.Equal(t, 0.0, env.CumulativeReward(body))
	})

	t.Run("test simulation accepts a plan that reaches the goal", func(t *testing.T) {
		env, body := newMaze(t)
		planner := &stubPlanner{ops: []planning.Operator{{Name: maze.OpGo, Args: []string{"east", "4"}}}}
		ctrl := newPlanningController(t, planner, planning.WithValidation(planning.ValidationSimulationWholePlan))
		require.NoError(t, ctrl.Init(body, env, time.Millisecond))
		require.NoError(t, ctrl.Start(context.Background()))

		require.NoError(t, ctrl.OnReward(context.Background(), 0))
		action, ok := env.PendingAction(body)
		require.True(t, ok)
		assert.Equal(t, maze.Move(maze.East), action)
		assert.Len(t, ctrl.Loop().Pending(), 3)
	})

	t.Run("test translation is identical after cancelled planning", func(t *testing.T) {
		env, body := newMaze(t)
		planner := &stubPlanner{
			ops:        []planning.Operator{{Name: maze.OpGo, Args: []string{"east", "3"}}, move(maze.East)},
			blockFirst: true,
		}
		ctrl := newPlanningController(t, planner)
		require.NoError(t, ctrl.Init(body, env, time.Millisecond))
		ctx := context.Background()
		require.NoError(t, ctrl.Start(ctx))
		require.True(t, ctrl.Loop().PlanningInFlight())

		ctrl.Loop().StartPlanning(ctx)
		require.NoError(t, ctrl.OnReward(ctx, 0))
		first := ctrl.Loop().Pending()

		ctrl.Loop().StartPlanning(ctx)
		require.NoError(t, ctrl.OnReward(ctx, 0))
		second := ctrl.Loop().Pending()

		want := []core.Action{maze.Move(maze.East), maze.Move(maze.East), maze.Move(maze.East)}
		if diff := cmp.Diff(want, first); diff != "" {
			t.Errorf("first translation mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("translations differ (-first +second):\n%s", diff)
		}
		assert.Equal(t, 1, ctrl.Loop().Stats().Cancelled)
		assert.Equal(t, 3, planner.calls)
	})

	t.Run("test rejected action invalidates the plan", func(t *testing.T) {
		env, body := newMaze(t)
		planner := &stubPlanner{ops: []planning.Operator{{Name: maze.OpGo, Args: []string{"east", "4"}}}}
		ctrl := newPlanningController(t, planner)
		require.NoError(t, ctrl.Init(body, env, time.Millisecond))
		require.NoError(t, ctrl.Start(context.Background()))

		require.NoError(t, env.RemoveBody(body, 0))
		require.NoError(t, ctrl.OnReward(context.Background(), 0))

		assert.Empty(t, ctrl.Loop().Pending())
		assert.Equal(t, 1, ctrl.Loop().Stats().ValidationFailures)
	})

	t.Run("test shutdown cancels planning", func(t *testing.T) {
		env, body := newMaze(t)
		planner := &stubPlanner{blockFirst: true}
		ctrl := newPlanningController(t, planner)
		require.NoError(t, ctrl.Init(body, env, time.Millisecond))
		require.NoError(t, ctrl.Start(context.Background()))
		require.True(t, ctrl.Loop().PlanningInFlight())

		ctrl.Shutdown()
		assert.False(t, ctrl.Loop().PlanningInFlight())
		require.NoError(t, ctrl.OnReward(context.Background(), 0))
		_, pending := env.PendingAction(body)
		assert.False(t, pending)
	})
}
