package experiment

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/boristopalov/agentsim/pkg/core"
)

// Stats summarizes controller totals for one generation.
type Stats struct {
	Controllers int
	Disabled    int
	Total       float64
	Average     float64
	StdDev      float64
	// Inequality is the spread between the best and worst total.
	Inequality float64
}

func ComputeStats(res *core.ExecutionResult) Stats {
	var s Stats
	if res == nil || len(res.Controllers) == 0 {
		return s
	}
	minTotal, maxTotal := math.MaxFloat64, -math.MaxFloat64
	for _, c := range res.Controllers {
		s.Controllers++
		if c.Disabled {
			s.Disabled++
		}
		s.Total += c.TotalReward
		minTotal = math.Min(minTotal, c.TotalReward)
		maxTotal = math.Max(maxTotal, c.TotalReward)
	}
	s.Average = s.Total / float64(s.Controllers)

	var sumSquares float64
	for _, c := range res.Controllers {
		diff := c.TotalReward - s.Average
		sumSquares += diff * diff
	}
	s.StdDev = math.Sqrt(sumSquares / float64(s.Controllers))
	s.Inequality = maxTotal - minTotal
	return s
}

func (e *Experiment) logStats(g GenerationResult) {
	r := g.Result
	e.logger.Infow("Generation finished",
		"generation", g.Generation,
		"run", r.RunID,
		"state", r.FinalState,
		"steps", r.StepsElapsed,
		"duration", r.EndTime.Sub(r.StartTime),
		"controllers", g.Stats.Controllers,
		"disabled", g.Stats.Disabled,
		"total", g.Stats.Total,
		"average", g.Stats.Average,
		"stddev", g.Stats.StdDev,
		"inequality", g.Stats.Inequality,
	)
	if g.Donations+g.Declined > 0 {
		e.logger.Infow("Donation metrics",
			"generation", g.Generation,
			"donations", g.Donations,
			"declined", g.Declined,
			"success_rate", float64(g.Donations)/float64(g.Donations+g.Declined)*100,
		)
	}
	for _, c := range r.Controllers {
		if c.Fault != nil {
			e.logger.Warnf("Controller %s was disabled: %v", c.ControllerID, c.Fault)
		}
	}
}

var summaryHeader = []string{
	"generation", "run_id", "final_state", "steps", "controller", "body",
	"total_reward", "disabled", "fault",
}

// WriteSummaryCSV writes one row per controller per generation.
func WriteSummaryCSV(path string, report *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(summaryHeader); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	for _, g := range report.Generations {
		r := g.Result
		for _, c := range r.Controllers {
			fault := ""
			if c.Fault != nil {
				fault = c.Fault.Error()
			}
			row := []string{
				strconv.Itoa(g.Generation),
				r.RunID,
				r.FinalState,
				strconv.FormatUint(r.StepsElapsed, 10),
				c.ControllerID,
				c.Body.String(),
				strconv.FormatFloat(c.TotalReward, 'f', 2, 64),
				strconv.FormatBool(c.Disabled),
				fault,
			}
			if err := w.Write(row); err != nil {
				return fmt.Errorf("failed to write summary: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return f.Close()
}
