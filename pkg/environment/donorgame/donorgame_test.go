package donorgame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
)

func newGame(t *testing.T, cfg Config, players int) (*environment.Environment, []core.Body) {
	t.Helper()
	game, err := New(cfg)
	require.NoError(t, err)
	env := environment.New(game, environment.WithLogger(zap.NewNop().Sugar()))
	bodies := make([]core.Body, players)
	for i := range bodies {
		bodies[i], err = env.CreateBody(Player)
		require.NoError(t, err)
	}
	return env, bodies
}

func roles(env *environment.Environment, body core.Body) (partner core.Body, donor bool) {
	env.View(func(d environment.Domain) {
		partner, donor, _ = d.(*Game).Partner(body)
	})
	return partner, donor
}

func TestGame(t *testing.T) {
	t.Run("test donation is multiplied", func(t *testing.T) {
		env, bodies := newGame(t, DefaultConfig(), 2)
		donor := bodies[0]
		recipient, isDonor := roles(env, donor)
		if !isDonor {
			donor, recipient = recipient, donor
		}

		require.True(t, env.SubmitAction(donor, Donate(4)))
		rewards, err := env.Step()
		require.NoError(t, err)

		assert.Equal(t, -4.0, rewards[donor])
		assert.Equal(t, 8.0, rewards[recipient])
		assert.Equal(t, -4.0, env.CumulativeReward(donor))

		env.View(func(d environment.Domain) {
			g := d.(*Game)
			assert.Equal(t, 6.0, g.Resources(donor))
			assert.Equal(t, 18.0, g.Resources(recipient))
			assert.Equal(t, []core.Body{recipient, donor}, g.TopBodies(5))
			require.Len(t, g.History(), 1)
			assert.Equal(t, 0.4, g.History()[0].Fraction)
		})
	})

	t.Run("test donation is clamped to resources", func(t *testing.T) {
		env, bodies := newGame(t, DefaultConfig(), 2)
		donor := bodies[0]
		if _, isDonor := roles(env, donor); !isDonor {
			donor = bodies[1]
		}
		require.True(t, env.SubmitAction(donor, Donate(50)))
		rewards, err := env.Step()
		require.NoError(t, err)
		assert.Equal(t, -10.0, rewards[donor])
	})

	t.Run("test recipient cannot donate", func(t *testing.T) {
		env, bodies := newGame(t, DefaultConfig(), 2)
		recipient := bodies[0]
		if _, isDonor := roles(env, recipient); isDonor {
			recipient = bodies[1]
		}
		require.True(t, env.SubmitAction(recipient, Donate(1)))
		rewards, err := env.Step()
		require.NoError(t, err)
		assert.Equal(t, 0.0, rewards[recipient])
		assert.True(t, env.LastActionFailed(recipient))
	})

	t.Run("test invalid actions are rejected", func(t *testing.T) {
		env, bodies := newGame(t, DefaultConfig(), 2)
		assert.False(t, env.SubmitAction(bodies[0], Donate(-1)))
		assert.False(t, env.SubmitAction(bodies[0], core.Action{Type: ActionDonate, Content: "lots"}))
		assert.False(t, env.SubmitAction(bodies[0], core.Action{Type: "move", Content: "north"}))
	})

	t.Run("test game ends after configured rounds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Rounds = 3
		env, _ := newGame(t, cfg, 4)
		for i := 0; i < 3; i++ {
			require.False(t, env.IsTerminal())
			_, err := env.Step()
			require.NoError(t, err)
		}
		assert.True(t, env.IsTerminal())
		_, err := env.Step()
		assert.ErrorIs(t, err, core.ErrSimulationFault)
	})

	t.Run("test pairing is reproducible", func(t *testing.T) {
		first, a := newGame(t, DefaultConfig(), 6)
		second, b := newGame(t, DefaultConfig(), 6)
		for i := range a {
			pa, da := roles(first, a[i])
			pb, db := roles(second, b[i])
			assert.Equal(t, pa, pb)
			assert.Equal(t, da, db)
		}
	})

	t.Run("test trace follows recipients", func(t *testing.T) {
		game, err := New(DefaultConfig())
		require.NoError(t, err)
		a, b, c := core.NewBody(0, Player), core.NewBody(1, Player), core.NewBody(2, Player)
		game.history = []Donation{
			{Round: 1, Donor: c, Recipient: a, Amount: 1},
			{Round: 2, Donor: b, Recipient: c, Amount: 2},
			{Round: 3, Donor: a, Recipient: b, Amount: 3},
		}
		game.round = 3

		chain := game.Trace(a, 3)
		require.Len(t, chain, 3)
		assert.Equal(t, 3.0, chain[0].Amount)
		assert.Equal(t, 2.0, chain[1].Amount)
		assert.Equal(t, 1.0, chain[2].Amount)
		assert.Len(t, game.Trace(a, 1), 1)
	})

	t.Run("test bad config", func(t *testing.T) {
		_, err := New(Config{Rounds: 0})
		assert.Error(t, err)
	})
}
