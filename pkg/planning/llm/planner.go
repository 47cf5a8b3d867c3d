// Package llm asks a hosted language model for plans.
package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/logger"
	"github.com/boristopalov/agentsim/pkg/planning"
	"github.com/boristopalov/agentsim/pkg/providers"
)

const PLAN_PROMPT_TEMPLATE = `You are a planner for the %s domain.

%s

Goal: %v

Write the plan as one operator per line, operator name first and arguments
separated by spaces, for example "go north 3". Start the plan with a line that
says PLAN: and end it with a line that says END. If the goal cannot be reached,
answer with PLAN: followed directly by END.`

type Planner struct {
	client providers.Client
	model  string
	logger *zap.SugaredLogger
}

type Option func(*Planner)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Planner) {
		p.logger = l
	}
}

func New(client providers.Client, model string, opts ...Option) *Planner {
	p := &Planner{client: client, model: model}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.For(logger.ComponentPlanning).Named("llm")
	}
	return p
}

func (p *Planner) Plan(ctx context.Context, domain string, problem planning.Problem) *planning.Task[planning.Result] {
	return planning.Go(ctx, func(ctx context.Context) (planning.Result, error) {
		prompt := fmt.Sprintf(PLAN_PROMPT_TEMPLATE, domain, problem.Description, problem.Goal)
		response, err := p.client.Complete(ctx, p.model, prompt)
		if err != nil {
			return planning.Result{}, fmt.Errorf("failed to generate plan: %w", err)
		}
		p.logger.Debugf("Plan response for %q: %s", problem.Name, response)

		ops, err := ParsePlan(response)
		if err != nil {
			return planning.Result{}, err
		}
		if len(ops) == 0 {
			return planning.Result{}, nil
		}
		return planning.Result{Plans: []planning.Plan{{Operators: ops, Cost: float64(len(ops))}}}, nil
	})
}

var (
	numbering = regexp.MustCompile(`^\s*(\d+[.)]|[-*])\s*`)
	callForm  = regexp.MustCompile(`^([A-Za-z_][\w-]*)\s*\((.*)\)$`)
)

// ParsePlan extracts operators between the PLAN: and END markers. Lines may
// be numbered or bulleted and may use either "op a b" or "op(a, b)" form.
func ParsePlan(response string) ([]planning.Operator, error) {
	lines := strings.Split(response, "\n")
	start := -1
	for i, line := range lines {
		if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "PLAN:") {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, fmt.Errorf("could not find PLAN: in response: %s", response)
	}

	var ops []planning.Operator
	first := strings.TrimSpace(strings.TrimSpace(lines[start])[len("PLAN:"):])
	rest := append([]string{first}, lines[start+1:]...)
	for _, line := range rest {
		line = strings.TrimSpace(line)
		if strings.EqualFold(line, "END") {
			return ops, nil
		}
		line = numbering.ReplaceAllString(line, "")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ops = append(ops, parseOperator(line))
	}
	return nil, fmt.Errorf("plan is missing END marker: %s", response)
}

func parseOperator(line string) planning.Operator {
	if m := callForm.FindStringSubmatch(line); m != nil {
		op := planning.Operator{Name: strings.ToLower(m[1])}
		for _, arg := range strings.Split(m[2], ",") {
			if arg = strings.TrimSpace(arg); arg != "" {
				op.Args = append(op.Args, arg)
			}
		}
		return op
	}
	fields := strings.Fields(line)
	return planning.Operator{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}
