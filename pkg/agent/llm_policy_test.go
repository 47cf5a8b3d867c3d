package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/environment/donorgame"
)

func newDonorGame(t *testing.T) (*environment.Environment, core.Body, core.Body) {
	t.Helper()
	game, err := donorgame.New(donorgame.DefaultConfig())
	require.NoError(t, err)
	env := environment.New(game, environment.WithLogger(zap.NewNop().Sugar()))
	a, err := env.CreateBody(donorgame.Player)
	require.NoError(t, err)
	b, err := env.CreateBody(donorgame.Player)
	require.NoError(t, err)

	var donor bool
	env.View(func(d environment.Domain) {
		_, donor, _ = d.(*donorgame.Game).Partner(a)
	})
	if donor {
		return env, a, b
	}
	return env, b, a
}

func TestLLMPolicy(t *testing.T) {
	nop := WithPolicyLogger(zap.NewNop().Sugar())

	t.Run("test strategy generation and donation", func(t *testing.T) {
		env, donor, recipient := newDonorGame(t)
		client := &mockClient{responses: []string{
			"Thinking it over.\nMy strategy will be to donate half and reward generosity.",
			"I will give a bit. ANSWER: 3",
		}}
		policy := NewLLMPolicy(client, "gpt-4o-mini", nop)
		ctrl := NewReactiveController(policy, WithLogger(zap.NewNop().Sugar()))
		require.NoError(t, ctrl.Init(donor, env, time.Millisecond))
		require.NoError(t, ctrl.Start(context.Background()))
		assert.Equal(t, "to donate half and reward generosity.", policy.Strategy())

		require.NoError(t, ctrl.OnReward(context.Background(), 0))
		action, ok := env.PendingAction(donor)
		require.True(t, ok)
		assert.Equal(t, donorgame.Donate(3), action)

		require.Len(t, client.prompts, 2)
		assert.Contains(t, client.prompts[1], "paired with "+recipient.String())
		assert.Contains(t, client.prompts[1], "no history of previous interactions")
		assert.Contains(t, client.prompts[1], "to donate half and reward generosity.")
	})

	t.Run("test strategy retry", func(t *testing.T) {
		env, donor, _ := newDonorGame(t)
		client := &mockClient{responses: []string{
			"I would cooperate.",
			"My strategy will be to cooperate.",
		}}
		policy := NewLLMPolicy(client, "gpt-4o-mini", nop)
		require.NoError(t, policy.Prepare(context.Background(), donor, env))
		assert.Equal(t, "to cooperate.", policy.Strategy())
		assert.Contains(t, client.prompts[1], "I would cooperate.")
	})

	t.Run("test recipient does not ask the model", func(t *testing.T) {
		env, _, recipient := newDonorGame(t)
		client := &mockClient{}
		policy := NewLLMPolicy(client, "gpt-4o-mini", WithStrategy("give nothing"), nop)

		action, err := policy.Decide(context.Background(), Observation{Body: recipient, Env: env})
		require.NoError(t, err)
		assert.True(t, action.IsNoOp())
		assert.Equal(t, 0, client.calls())
	})

	t.Run("test donation is clamped and remembered", func(t *testing.T) {
		env, donor, _ := newDonorGame(t)
		client := &mockClient{responses: []string{"ANSWER: 50"}}
		policy := NewLLMPolicy(client, "gpt-4o-mini", WithStrategy("give everything"), WithMemoryCapacity(5), nop)

		action, err := policy.Decide(context.Background(), Observation{Body: donor, Env: env})
		require.NoError(t, err)
		assert.Equal(t, donorgame.Donate(10), action)
		assert.Equal(t, 1, policy.Memory().Len())
	})

	t.Run("test unparseable answer is an error", func(t *testing.T) {
		env, donor, _ := newDonorGame(t)
		client := &mockClient{responses: []string{"I am not sure."}}
		policy := NewLLMPolicy(client, "gpt-4o-mini", WithStrategy("s"), nop)
		_, err := policy.Decide(context.Background(), Observation{Body: donor, Env: env})
		assert.ErrorContains(t, err, "could not find answer")
	})

	t.Run("test finished game does not ask the model", func(t *testing.T) {
		env, a, b := newDonorGame(t)
		for !env.IsTerminal() {
			_, err := env.Step()
			require.NoError(t, err)
		}
		client := &mockClient{}
		policy := NewLLMPolicy(client, "gpt-4o-mini", WithStrategy("s"), nop)
		for _, body := range []core.Body{a, b} {
			action, err := policy.Decide(context.Background(), Observation{Body: body, Env: env})
			require.NoError(t, err)
			assert.True(t, action.IsNoOp())
		}
		assert.Equal(t, 0, client.calls())
	})

	t.Run("test wrong domain", func(t *testing.T) {
		env, body := newMaze(t)
		policy := NewLLMPolicy(&mockClient{}, "gpt-4o-mini", WithStrategy("s"), nop)
		_, err := policy.Decide(context.Background(), Observation{Body: body, Env: env})
		assert.Error(t, err)
	})
}

func TestParseDonationResponse(t *testing.T) {
	for response, want := range map[string]float64{
		"ANSWER: 4":            4,
		"ANSWER:2.5":           2.5,
		"So ANSWER: $0.75.":    0.75,
		"reason...\nANSWER: 0": 0,
	} {
		got, err := parseDonationResponse(response)
		require.NoError(t, err, response)
		assert.Equal(t, want, got, response)
	}
}
