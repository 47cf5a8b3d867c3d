package maze

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
)

const corridor = `
#######
#S...G#
#######
`

func newEnv(t *testing.T, layout string) (*environment.Environment, core.Body) {
	t.Helper()
	grid, err := ParseString(layout)
	require.NoError(t, err)
	env := environment.New(NewWorld(grid), environment.WithLogger(zap.NewNop().Sugar()))
	body, err := env.CreateBody(Walker)
	require.NoError(t, err)
	return env, body
}

func TestParse(t *testing.T) {
	t.Run("test start and goal cells", func(t *testing.T) {
		grid, err := ParseString(corridor)
		require.NoError(t, err)
		assert.Equal(t, []Cell{{1, 1}}, grid.Starts())
		assert.Equal(t, []Cell{{5, 1}}, grid.Goals())
		assert.True(t, grid.Open(Cell{2, 1}))
		assert.False(t, grid.Open(Cell{0, 1}))
		assert.False(t, grid.Open(Cell{9, 9}))
	})

	t.Run("test invalid maps", func(t *testing.T) {
		for name, layout := range map[string]string{
			"no start":  "#..G#",
			"no goal":   "#S..#",
			"bad glyph": "#S.x.G#",
		} {
			_, err := ParseString(layout)
			assert.ErrorIs(t, err, ErrInvalidMap, name)
		}
	})

	t.Run("test render marks", func(t *testing.T) {
		grid, err := ParseString(corridor)
		require.NoError(t, err)
		out := grid.Render(map[Cell]byte{{3, 1}: 'A'})
		assert.Equal(t, "#######\n#S.A.G#\n#######\n", out)
	})
}

func TestWorld(t *testing.T) {
	t.Run("test walking to the goal", func(t *testing.T) {
		env, body := newEnv(t, corridor)

		for i := 0; i < 3; i++ {
			require.True(t, env.SubmitAction(body, Move(East)))
			rewards, err := env.Step()
			require.NoError(t, err)
			assert.Equal(t, StepReward, rewards[body])
			assert.False(t, env.IsTerminal())
		}

		require.True(t, env.SubmitAction(body, Move(East)))
		rewards, err := env.Step()
		require.NoError(t, err)
		assert.Equal(t, StepReward+GoalReward, rewards[body])
		assert.True(t, env.IsTerminal())
		assert.Equal(t, 3*StepReward+StepReward+GoalReward, env.CumulativeReward(body))
	})

	t.Run("test bumping into a wall fails the action", func(t *testing.T) {
		env, body := newEnv(t, corridor)

		require.True(t, env.SubmitAction(body, Move(North)))
		rewards, err := env.Step()
		require.NoError(t, err)
		assert.Equal(t, StepReward+BumpReward, rewards[body])
		assert.True(t, env.LastActionFailed(body))

		var pos Cell
		env.View(func(d environment.Domain) {
			pos, _ = d.(*World).Position(body)
		})
		assert.Equal(t, Cell{1, 1}, pos)
	})

	t.Run("test unrecognized actions are rejected", func(t *testing.T) {
		env, body := newEnv(t, corridor)
		assert.False(t, env.SubmitAction(body, core.Action{Type: ActionMove, Content: "up"}))
		assert.False(t, env.SubmitAction(body, core.Action{Type: "donate", Content: 1.0}))
		assert.True(t, env.SubmitAction(body, core.Action{Type: ActionMove, Content: "West"}))
	})

	t.Run("test clone is independent", func(t *testing.T) {
		env, body := newEnv(t, corridor)
		sim := env.Clone()

		require.True(t, sim.SubmitAction(body, Move(East)))
		_, err := sim.Step()
		require.NoError(t, err)

		env.View(func(d environment.Domain) {
			pos, _ := d.(*World).Position(body)
			assert.Equal(t, Cell{1, 1}, pos)
		})
		assert.Equal(t, uint64(0), env.TimeStep())
		assert.Equal(t, uint64(1), sim.TimeStep())
	})

	t.Run("test removed bodies do not block termination", func(t *testing.T) {
		grid, err := ParseString(strings.Replace(corridor, "S", "G", 1) + "#S.G###\n")
		require.NoError(t, err)
		env := environment.New(NewWorld(grid), environment.WithLogger(zap.NewNop().Sugar()))
		// First start is row 3 column 1; the second body wraps to the same start.
		a, err := env.CreateBody(Walker)
		require.NoError(t, err)
		b, err := env.CreateBody(Walker)
		require.NoError(t, err)

		require.NoError(t, env.RemoveBody(b, 5))
		require.True(t, env.SubmitAction(a, Move(East)))
		_, err = env.Step()
		require.NoError(t, err)
		require.True(t, env.SubmitAction(a, Move(East)))
		_, err = env.Step()
		require.NoError(t, err)

		assert.True(t, env.IsTerminal())
		assert.Equal(t, -5.0, env.CumulativeReward(b))
	})
}
