package experiment

import (
	"fmt"
	"strings"

	"github.com/boristopalov/agentsim/pkg/agent"
	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/environment/donorgame"
)

// summarizeDonorGame counts transfers and collects the strategies of the
// richest players for the next generation.
func (e *Experiment) summarizeDonorGame(env *environment.Environment, out *GenerationResult, policies map[int]*agent.LLMPolicy) {
	var (
		history   []donorgame.Donation
		survivors []core.Body
		resources = make(map[int]float64)
	)
	env.View(func(d environment.Domain) {
		g, ok := d.(*donorgame.Game)
		if !ok {
			return
		}
		history = g.History()
		survivors = g.TopBodies(survivorCount(len(policies), e.survivorRatio()))
		for _, b := range survivors {
			resources[b.ID()] = g.Resources(b)
		}
	})

	for _, d := range history {
		if d.Amount > 0 {
			out.Donations++
		} else {
			out.Declined++
		}
	}
	out.Advice = survivorAdvice(survivors, resources, policies)
}

func survivorCount(players int, ratio float64) int {
	n := int(float64(players) * ratio)
	if n < 1 && players > 0 {
		n = 1
	}
	return n
}

func survivorAdvice(survivors []core.Body, resources map[int]float64, policies map[int]*agent.LLMPolicy) string {
	var lines []string
	for _, b := range survivors {
		p, ok := policies[b.ID()]
		if !ok || p.Strategy() == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%.2f resources): %s", b, resources[b.ID()], p.Strategy()))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Successful strategies from previous generation:\n" + strings.Join(lines, "\n")
}
