package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/environment/donorgame"
	"github.com/boristopalov/agentsim/pkg/logger"
	"github.com/boristopalov/agentsim/pkg/memory"
	"github.com/boristopalov/agentsim/pkg/providers"
)

const (
	SYSTEM_PROMPT = `Each player is given an initial endowment of %.0f units of a resource. In each round, you are randomly paired with another individual. One of you is a donor, and the other is a recipient. The donor decides to give up some amount of the resource. The recipient receives %.0fx the number of units that the donor gave up. Your goal is to maximize the number of units you have after the final round.`

	STRATEGY_PROMPT_TEMPLATE = `Your name is %s.
%s
As a donor, you will receive limited information about the recipient and their recent interactions: You will see what the recipient (let's call them A) did in the immediately preceding round only. You will also see what A's partner from that round (let's call them B) did in their preceding round. This chain continues for at most three rounds back.

In the first round, there will be no information about the recipient's previous behavior - think carefully about how much to donate in that case. Before formulating your strategy, briefly think step by step about what would be a successful strategy in this game. Then describe your strategy briefly without explanation in one sentence that starts: My strategy will be.`

	DONATION_PROMPT_TEMPLATE = `Your name is %s. As you will recall, here is the strategy you decided to follow: "%s"

This is generation %d. It is now round %d. In this round, you have been paired with %s. They currently have %.2f units of the valuable resource.

%s

You currently have %.2f units of the valuable resource.
How many units do you give up? Very briefly think step by step about how you apply your strategy in this situation and then provide your answer. Your answer should follow the string "ANSWER" like so: ANSWER:`

	RETRY_STRATEGY_PROMPT_TEMPLATE = `Your previous response did not include the required format. Here was your response:

%s

Please reformulate your strategy so that it starts with exactly "My strategy will be". For example: "My strategy will be to donate 50%% initially and adjust based on reciprocity."`

	traceDepth = 3
)

// LLMPolicy plays the donor game by prompting a language model. The model
// writes a strategy once in Prepare and is asked for a donation whenever its
// body is the donor of the upcoming round.
type LLMPolicy struct {
	client     providers.Client
	model      string
	strategy   string
	advice     string
	generation int
	memory     *memory.Memory
	logger     *zap.SugaredLogger
}

var (
	_ Policy   = (*LLMPolicy)(nil)
	_ Preparer = (*LLMPolicy)(nil)
)

type LLMPolicyOption func(*LLMPolicy)

// WithStrategy skips strategy generation.
func WithStrategy(strategy string) LLMPolicyOption {
	return func(p *LLMPolicy) {
		p.strategy = strategy
	}
}

// WithAdvice passes the advice of a previous generation into strategy
// generation.
func WithAdvice(generation int, advice string) LLMPolicyOption {
	return func(p *LLMPolicy) {
		p.generation = generation
		p.advice = advice
	}
}

func WithMemoryCapacity(n int) LLMPolicyOption {
	return func(p *LLMPolicy) {
		p.memory = memory.NewMemory(n)
	}
}

func WithPolicyLogger(l *zap.SugaredLogger) LLMPolicyOption {
	return func(p *LLMPolicy) {
		p.logger = l
	}
}

func NewLLMPolicy(client providers.Client, model string, opts ...LLMPolicyOption) *LLMPolicy {
	p := &LLMPolicy{
		client:     client,
		model:      model,
		generation: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.memory == nil {
		p.memory = memory.NewMemory(100)
	}
	if p.logger == nil {
		p.logger = logger.For(logger.ComponentAgent).Named("llm")
	}
	return p
}

func (p *LLMPolicy) Strategy() string {
	return p.strategy
}

func (p *LLMPolicy) Memory() *memory.Memory {
	return p.memory
}

// Prepare generates a strategy unless one was given.
func (p *LLMPolicy) Prepare(ctx context.Context, body core.Body, env *environment.Environment) error {
	if p.strategy != "" {
		return nil
	}
	system, err := systemPrompt(env)
	if err != nil {
		return err
	}

	instructions := "Based on the description of the game, create a strategy that you will follow in the game."
	if p.generation > 1 && p.advice != "" {
		instructions = fmt.Sprintf("How would you approach the game?\nHere is the advice of the best-performing 50%% of the previous generation, along with their final scores:\n%s\nModify this advice to create your own strategy.", p.advice)
	}
	prompt := fmt.Sprintf(STRATEGY_PROMPT_TEMPLATE, body, instructions)

	response, err := p.client.Complete(ctx, p.model, system+"\n\n"+prompt)
	if err != nil {
		return fmt.Errorf("failed to generate strategy: %w", err)
	}
	strategy := extractStrategy(response)
	if strategy == "" {
		response, err = p.client.Complete(ctx, p.model, system+"\n\n"+fmt.Sprintf(RETRY_STRATEGY_PROMPT_TEMPLATE, response))
		if err != nil {
			return fmt.Errorf("failed to generate strategy on retry: %w", err)
		}
		strategy = extractStrategy(response)
		if strategy == "" {
			return fmt.Errorf("no strategy found in response even after retry: %s", response)
		}
	}

	p.strategy = strategy
	p.logger.Infof("Strategy for %s: %s", body, strategy)
	return nil
}

type donorView struct {
	round     int
	recipient core.Body
	theirs    float64
	mine      float64
	trace     []donorgame.Donation
}

// Decide asks the model for a donation when the body donates next round.
func (p *LLMPolicy) Decide(ctx context.Context, obs Observation) (core.Action, error) {
	if obs.TimeStep > 0 {
		p.memory.Store(fmt.Sprintf("Round %d: my resources changed by %.2f, my total reward is %.2f", obs.TimeStep, obs.Reward, obs.Cumulative))
	}

	view, donor, err := readDonorView(obs.Env, obs.Body)
	if err != nil {
		return core.Action{}, err
	}
	if !donor {
		return core.NoOp, nil
	}

	history := "This is the first round, so there is no history of previous interactions."
	if len(view.trace) > 0 {
		lines := make([]string, len(view.trace))
		for i, d := range view.trace {
			lines[i] = d.String()
		}
		history = strings.Join(lines, "\n")
	}

	system, err := systemPrompt(obs.Env)
	if err != nil {
		return core.Action{}, err
	}
	prompt := fmt.Sprintf(DONATION_PROMPT_TEMPLATE,
		obs.Body,
		p.strategy,
		p.generation,
		view.round,
		view.recipient,
		view.theirs,
		history,
		view.mine,
	)
	if recent := p.memory.Recent(10); len(recent) > 0 {
		prompt = "Your recent memories:\n" + strings.Join(recent, "\n") + "\n\n" + prompt
	}

	response, err := p.client.Complete(ctx, p.model, system+"\n\n"+prompt)
	if err != nil {
		return core.Action{}, fmt.Errorf("failed to generate response: %w", err)
	}
	p.logger.Debugf("Donation response for %s: %s", obs.Body, response)

	amount, err := parseDonationResponse(response)
	if err != nil {
		return core.Action{}, err
	}
	if amount > view.mine {
		amount = view.mine
	}
	p.memory.Store(fmt.Sprintf("Round %d: I donated %.2f to %s", view.round, amount, view.recipient))
	return donorgame.Donate(amount), nil
}

func readDonorView(env *environment.Environment, body core.Body) (donorView, bool, error) {
	var (
		view  donorView
		donor bool
		err   error
	)
	env.View(func(d environment.Domain) {
		g, ok := d.(*donorgame.Game)
		if !ok {
			err = fmt.Errorf("environment domain is %T, not a donor game", d)
			return
		}
		if g.IsTerminal() {
			return
		}
		var partner core.Body
		partner, donor, ok = g.Partner(body)
		if !ok || !donor {
			donor = false
			return
		}
		view = donorView{
			round:     g.Round() + 1,
			recipient: partner,
			theirs:    g.Resources(partner),
			mine:      g.Resources(body),
			trace:     g.Trace(partner, traceDepth),
		}
	})
	return view, donor, err
}

func systemPrompt(env *environment.Environment) (string, error) {
	var (
		cfg donorgame.Config
		err error
	)
	env.View(func(d environment.Domain) {
		g, ok := d.(*donorgame.Game)
		if !ok {
			err = fmt.Errorf("environment domain is %T, not a donor game", d)
			return
		}
		cfg = g.Config()
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(SYSTEM_PROMPT, cfg.InitialBalance, cfg.Multiplier), nil
}

var answerPattern = regexp.MustCompile(`ANSWER:\s*\$?(\d*\.?\d+)`)

func parseDonationResponse(response string) (float64, error) {
	matches := answerPattern.FindStringSubmatch(response)
	if len(matches) < 2 {
		return 0, fmt.Errorf("could not find answer in response: %s", response)
	}
	donation, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse donation amount: %w", err)
	}
	return donation, nil
}

func extractStrategy(response string) string {
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(line), "my strategy will be") {
			return strings.TrimSpace(line[len("my strategy will be"):])
		}
	}
	return ""
}
