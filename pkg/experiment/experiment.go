// Package experiment turns a loaded config into environments, controllers and
// executor runs, one run per generation.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/agent"
	"github.com/boristopalov/agentsim/pkg/config"
	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/environment/donorgame"
	"github.com/boristopalov/agentsim/pkg/environment/maze"
	"github.com/boristopalov/agentsim/pkg/executor"
	"github.com/boristopalov/agentsim/pkg/logger"
	"github.com/boristopalov/agentsim/pkg/messaging"
	"github.com/boristopalov/agentsim/pkg/planning"
	"github.com/boristopalov/agentsim/pkg/planning/llm"
	"github.com/boristopalov/agentsim/pkg/planning/search"
	"github.com/boristopalov/agentsim/pkg/providers"
)

const defaultSurvivorRatio = 0.5

// ClientFactory returns the completion client for a model.
type ClientFactory func(ctx context.Context, model string) (providers.Client, error)

func defaultClientFactory(ctx context.Context, model string) (providers.Client, error) {
	return providers.ForModel(ctx, model)
}

type Experiment struct {
	cfg     *config.ExperimentConfig
	clients ClientFactory
	broker  messaging.Broker
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	cache   map[string]providers.Client
	current *executor.Executor
	stopped bool
}

type Option func(*Experiment)

func WithClientFactory(f ClientFactory) Option {
	return func(e *Experiment) {
		e.clients = f
	}
}

func WithBroker(b messaging.Broker) Option {
	return func(e *Experiment) {
		e.broker = b
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Experiment) {
		e.logger = l
	}
}

func New(cfg *config.ExperimentConfig, opts ...Option) *Experiment {
	e := &Experiment{
		cfg:     cfg,
		clients: defaultClientFactory,
		cache:   make(map[string]providers.Client),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.For(logger.ComponentExperiment)
	}
	e.logger = e.logger.With("experiment", cfg.Name)
	return e
}

// GenerationResult is the outcome of one executor run.
type GenerationResult struct {
	Generation int
	Result     *core.ExecutionResult
	Stats      Stats
	// Donations and Declined count donor game transfers; Advice is what the
	// survivors passed on to the next generation.
	Donations int
	Declined  int
	Advice    string
}

type Report struct {
	Name        string
	Generations []GenerationResult
}

// member is one controller waiting to be bound.
type member struct {
	agentType  core.AgentType
	controller agent.Controller
	policy     *agent.LLMPolicy
}

// Stop ends the current generation and skips the rest.
func (e *Experiment) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	if e.current != nil {
		e.current.Stop()
	}
}

// Run executes every generation in order and writes the summary file if one
// is configured. A run error ends the experiment with the generations so far.
func (e *Experiment) Run(ctx context.Context) (*Report, error) {
	report := &Report{Name: e.cfg.Name}
	advice := ""

	for gen := 1; gen <= e.cfg.Generations; gen++ {
		if ctx.Err() != nil || e.isStopped() {
			break
		}
		e.logger.Infof("Starting generation %d/%d", gen, e.cfg.Generations)

		out, err := e.runGeneration(ctx, gen, advice)
		if out != nil {
			report.Generations = append(report.Generations, *out)
			e.logStats(*out)
			advice = out.Advice
		}
		if err != nil {
			return report, e.finish(report, fmt.Errorf("generation %d: %w", gen, err))
		}
	}
	return report, e.finish(report, nil)
}

func (e *Experiment) finish(report *Report, runErr error) error {
	if e.cfg.Output.SummaryCSV == "" {
		return runErr
	}
	if err := WriteSummaryCSV(e.cfg.Output.SummaryCSV, report); err != nil {
		return errors.Join(runErr, err)
	}
	e.logger.Infof("Wrote summary to %s", e.cfg.Output.SummaryCSV)
	return runErr
}

func (e *Experiment) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Experiment) runGeneration(ctx context.Context, gen int, advice string) (*GenerationResult, error) {
	env, err := e.newEnvironment(gen)
	if err != nil {
		return nil, err
	}
	members, err := e.newMembers(ctx, gen, advice)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(env, e.executorOptions()...)
	if err != nil {
		return nil, err
	}
	policies := make(map[int]*agent.LLMPolicy)
	for _, m := range members {
		body, err := exec.Bind(m.agentType, m.controller)
		if err != nil {
			return nil, err
		}
		if m.policy != nil {
			policies[body.ID()] = m.policy
		}
	}

	e.mu.Lock()
	e.current = exec
	if e.stopped {
		exec.Stop()
	}
	e.mu.Unlock()

	res, runErr := exec.Run(ctx)
	if res == nil {
		return nil, runErr
	}

	out := &GenerationResult{
		Generation: gen,
		Result:     res,
		Stats:      ComputeStats(res),
	}
	if e.cfg.Environment.Type == config.EnvDonorGame {
		e.summarizeDonorGame(env, out, policies)
	}
	return out, runErr
}

func (e *Experiment) executorOptions() []executor.Option {
	c := e.cfg
	opts := []executor.Option{
		executor.WithStepDelay(c.StepDelay),
		executor.WithMaxNotificationInstances(c.MaxNotificationInstances),
		executor.WithDebug(c.Debug),
		executor.WithMaxSteps(c.MaxSteps),
		executor.WithDriftTolerance(c.DriftTolerance),
		executor.WithDisablePenalty(c.DisablePenalty),
		executor.WithLogger(logger.For(logger.ComponentExecutor).With("experiment", c.Name)),
	}
	if c.Pacing == config.PacingSynchronous {
		opts = append(opts, executor.WithPacing(executor.Synchronous))
	}
	if c.Dispatch == config.DispatchAsync {
		opts = append(opts, executor.WithDispatch(executor.AsyncDispatch))
	}
	if c.Workers > 0 {
		opts = append(opts, executor.WithWorkers(c.Workers))
	}
	if c.ShutdownTimeout > 0 {
		opts = append(opts, executor.WithShutdownTimeout(c.ShutdownTimeout))
	}
	if e.broker != nil {
		opts = append(opts, executor.WithBroker(e.broker))
	}
	return opts
}

func (e *Experiment) newEnvironment(gen int) (*environment.Environment, error) {
	envLog := logger.For(logger.ComponentEnvironment).With("experiment", e.cfg.Name)

	switch e.cfg.Environment.Type {
	case config.EnvMaze:
		var mc config.MazeConfig
		if err := e.cfg.Environment.Decode(&mc); err != nil {
			return nil, err
		}
		var (
			grid *maze.Grid
			err  error
		)
		if mc.Map != "" {
			grid, err = maze.ParseString(mc.Map)
		} else {
			grid, err = maze.LoadFile(mc.File)
		}
		if err != nil {
			return nil, err
		}
		return environment.New(maze.NewWorld(grid), environment.WithLogger(envLog)), nil

	case config.EnvDonorGame:
		gc, err := e.donorGameConfig()
		if err != nil {
			return nil, err
		}
		gc.Seed += int64(gen - 1)
		game, err := donorgame.New(gc)
		if err != nil {
			return nil, err
		}
		return environment.New(game, environment.WithLogger(envLog)), nil

	default:
		return nil, fmt.Errorf("unknown environment type %q", e.cfg.Environment.Type)
	}
}

func (e *Experiment) donorGameConfig() (donorgame.Config, error) {
	var dc config.DonorGameConfig
	if err := e.cfg.Environment.Decode(&dc); err != nil {
		return donorgame.Config{}, err
	}
	gc := donorgame.DefaultConfig()
	if dc.Rounds > 0 {
		gc.Rounds = dc.Rounds
	}
	if dc.Multiplier > 0 {
		gc.Multiplier = dc.Multiplier
	}
	if dc.InitialBalance > 0 {
		gc.InitialBalance = dc.InitialBalance
	}
	if dc.Seed != 0 {
		gc.Seed = dc.Seed
	}
	return gc, nil
}

func (e *Experiment) survivorRatio() float64 {
	var dc config.DonorGameConfig
	if err := e.cfg.Environment.Decode(&dc); err != nil || dc.SurvivorRatio == 0 {
		return defaultSurvivorRatio
	}
	return dc.SurvivorRatio
}

func (e *Experiment) newMembers(ctx context.Context, gen int, advice string) ([]member, error) {
	var members []member
	for i, ac := range e.cfg.Agents {
		agentType := e.agentType(ac)
		for n := 0; n < ac.Count; n++ {
			m, err := e.newMember(ctx, ac, agentType, int64(n), gen, advice)
			if err != nil {
				return nil, fmt.Errorf("agents[%d] #%d: %w", i, n, err)
			}
			members = append(members, m)
		}
	}
	return members, nil
}

func (e *Experiment) agentType(ac config.AgentConfig) core.AgentType {
	if ac.Type != "" {
		return core.AgentType{Name: ac.Type}
	}
	if e.cfg.Environment.Type == config.EnvDonorGame {
		return donorgame.Player
	}
	return maze.Walker
}

func (e *Experiment) newMember(ctx context.Context, ac config.AgentConfig, agentType core.AgentType, n int64, gen int, advice string) (member, error) {
	ctrlLog := logger.For(logger.ComponentAgent).With("experiment", e.cfg.Name)
	m := member{agentType: agentType}

	switch ac.Controller {
	case config.ControllerRandom:
		actions, err := e.randomActions(ac.Actions)
		if err != nil {
			return member{}, err
		}
		// Each instance draws from its own sequence.
		seed := ac.Seed + n + int64(gen-1)*1000
		m.controller = agent.NewReactiveController(agent.NewRandomPolicy(seed, actions...), agent.WithLogger(ctrlLog))

	case config.ControllerPlanning:
		var planner planning.Planner
		planLog := logger.For(logger.ComponentPlanning).With("experiment", e.cfg.Name)
		switch ac.Planner {
		case config.PlannerLLM:
			client, err := e.client(ctx, ac.Model)
			if err != nil {
				return member{}, err
			}
			planner = llm.New(client, ac.Model, llm.WithLogger(planLog))
		default:
			planner = search.New(search.WithLogger(planLog))
		}
		method, err := planning.ParseValidationMethod(ac.Validation)
		if err != nil {
			return member{}, err
		}
		loopOpts := []planning.LoopOption{
			planning.WithValidation(method),
			planning.WithLoopLogger(planLog),
		}
		if e.cfg.Pacing == config.PacingSynchronous {
			loopOpts = append(loopOpts, planning.WithSynchronousPlanning())
		}
		loop, err := planning.NewLoop(maze.NewRepresentation(), planner, loopOpts...)
		if err != nil {
			return member{}, err
		}
		m.controller = agent.NewPlanningController(loop, agent.WithLogger(ctrlLog))

	case config.ControllerLLM:
		client, err := e.client(ctx, ac.Model)
		if err != nil {
			return member{}, err
		}
		opts := []agent.LLMPolicyOption{agent.WithAdvice(gen, advice)}
		if ac.Strategy != "" {
			opts = append(opts, agent.WithStrategy(ac.Strategy))
		}
		m.policy = agent.NewLLMPolicy(client, ac.Model, opts...)
		m.controller = agent.NewReactiveController(m.policy, agent.WithLogger(ctrlLog))

	default:
		return member{}, fmt.Errorf("unknown controller %q", ac.Controller)
	}
	return m, nil
}

// randomActions reads the configured action set in the environment's
// spelling. An empty list means every move or a small set of donations.
func (e *Experiment) randomActions(spec []string) ([]core.Action, error) {
	var actions []core.Action
	switch e.cfg.Environment.Type {
	case config.EnvMaze:
		if len(spec) == 0 {
			for _, d := range maze.Directions {
				actions = append(actions, maze.Move(d))
			}
			return actions, nil
		}
		for _, s := range spec {
			d, ok := maze.ParseDirection(s)
			if !ok {
				return nil, fmt.Errorf("unknown direction %q", s)
			}
			actions = append(actions, maze.Move(d))
		}
	case config.EnvDonorGame:
		if len(spec) == 0 {
			spec = []string{"0", "1", "2", "5"}
		}
		for _, s := range spec {
			amount, err := strconv.ParseFloat(s, 64)
			if err != nil || amount < 0 {
				return nil, fmt.Errorf("invalid donation amount %q", s)
			}
			actions = append(actions, donorgame.Donate(amount))
		}
	}
	return actions, nil
}

func (e *Experiment) client(ctx context.Context, model string) (providers.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.cache[model]; ok {
		return c, nil
	}
	c, err := e.clients(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", model, err)
	}
	e.cache[model] = c
	return c, nil
}
