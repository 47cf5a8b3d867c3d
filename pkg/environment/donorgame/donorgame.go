// Package donorgame implements the donor game: each round bodies are paired,
// the donor gives up some of its resources and the recipient receives a
// multiple of that amount.
package donorgame

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
)

const ActionDonate = "donate"

var Player = core.AgentType{Name: "donor"}

type Config struct {
	Rounds         int
	Multiplier     float64
	InitialBalance float64
	Seed           int64
}

func DefaultConfig() Config {
	return Config{
		Rounds:         10,
		Multiplier:     2,
		InitialBalance: 10,
		Seed:           1,
	}
}

// Donation records one completed donation.
type Donation struct {
	Round     int
	Donor     core.Body
	Recipient core.Body
	Amount    float64
	// Fraction of the donor's resources given up.
	Fraction float64
}

func (d Donation) String() string {
	return fmt.Sprintf("In round %d, %s donated %.0f%% (%.2f) of their resources to %s",
		d.Round, d.Donor, d.Fraction*100, d.Amount, d.Recipient)
}

// Donate returns the action that gives up amount units.
func Donate(amount float64) core.Action {
	return core.Action{Type: ActionDonate, Content: amount}
}

// Game is the donor game Domain. Pairings for the upcoming round are drawn
// from a seeded source after every tick and whenever the set of bodies
// changes, so controllers can see who they are paired with before acting.
type Game struct {
	cfg       Config
	rng       *rand.Rand
	round     int
	bodies    []core.Body
	resources map[int]float64
	// donor id -> recipient
	pairs     map[int]core.Body
	recipient map[int]core.Body
	history   []Donation
}

var _ environment.Domain = (*Game)(nil)

func New(cfg Config) (*Game, error) {
	if cfg.Rounds <= 0 {
		return nil, fmt.Errorf("rounds must be positive, got %d", cfg.Rounds)
	}
	if cfg.Multiplier < 0 {
		return nil, fmt.Errorf("multiplier must not be negative, got %.2f", cfg.Multiplier)
	}
	return &Game{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		resources: make(map[int]float64),
		pairs:     make(map[int]core.Body),
		recipient: make(map[int]core.Body),
	}, nil
}

func (g *Game) AddBody(body core.Body) error {
	if _, ok := g.resources[body.ID()]; ok {
		return fmt.Errorf("body %s already playing", body)
	}
	g.bodies = append(g.bodies, body)
	g.resources[body.ID()] = g.cfg.InitialBalance
	g.pair()
	return nil
}

func (g *Game) RemoveBody(body core.Body) {
	for i, b := range g.bodies {
		if b.Equal(body) {
			g.bodies = append(g.bodies[:i], g.bodies[i+1:]...)
			break
		}
	}
	g.pair()
}

// pair shuffles the players into donor/recipient pairs. With an odd number
// of players the last one sits the round out.
func (g *Game) pair() {
	g.pairs = make(map[int]core.Body, len(g.bodies)/2)
	g.recipient = make(map[int]core.Body, len(g.bodies)/2)
	shuffled := append([]core.Body(nil), g.bodies...)
	g.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	for i := 0; i+1 < len(shuffled); i += 2 {
		donor, recipient := shuffled[i], shuffled[i+1]
		g.pairs[donor.ID()] = recipient
		g.recipient[recipient.ID()] = donor
	}
}

func (g *Game) IsRecognizedAction(body core.Body, action core.Action) bool {
	if action.IsNoOp() {
		return true
	}
	if action.Type != ActionDonate {
		return false
	}
	amount, ok := amountOf(action.Content)
	return ok && amount >= 0
}

func amountOf(content any) (float64, bool) {
	switch v := content.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Tick applies every donor's donation. Donations are clamped to what the
// donor owns. A donate action from a body that is not a donor this round
// fails.
func (g *Game) Tick(actions map[core.Body]core.Action) (environment.TickResult, error) {
	if g.IsTerminal() {
		return environment.TickResult{}, fmt.Errorf("game is over after %d rounds", g.round)
	}
	before := make(map[int]float64, len(actions))
	for body := range actions {
		before[body.ID()] = g.resources[body.ID()]
	}

	result := environment.TickResult{
		Rewards: make(map[core.Body]float64, len(actions)),
		Failed:  make(map[core.Body]bool),
	}

	// Apply in id order so the history is stable.
	donors := make([]core.Body, 0, len(actions))
	for body := range actions {
		donors = append(donors, body)
	}
	sort.Slice(donors, func(i, j int) bool { return donors[i].ID() < donors[j].ID() })

	for _, donor := range donors {
		action := actions[donor]
		if action.IsNoOp() {
			continue
		}
		recipient, ok := g.pairs[donor.ID()]
		if !ok {
			result.Failed[donor] = true
			continue
		}
		amount, _ := amountOf(action.Content)
		available := before[donor.ID()]
		if amount > available {
			amount = available
		}
		var fraction float64
		if available > 0 {
			fraction = amount / available
		}
		g.resources[donor.ID()] -= amount
		g.resources[recipient.ID()] += amount * g.cfg.Multiplier
		g.history = append(g.history, Donation{
			Round:     g.round + 1,
			Donor:     donor,
			Recipient: recipient,
			Amount:    amount,
			Fraction:  fraction,
		})
	}

	for body := range actions {
		result.Rewards[body] = g.resources[body.ID()] - before[body.ID()]
	}

	g.round++
	g.pair()
	return result, nil
}

func (g *Game) IsTerminal() bool {
	return g.round >= g.cfg.Rounds
}

// Round returns the number of completed rounds.
func (g *Game) Round() int { return g.round }

func (g *Game) Config() Config { return g.cfg }

func (g *Game) Resources(body core.Body) float64 {
	return g.resources[body.ID()]
}

// Partner returns the body paired with body for the upcoming round and
// whether body is the donor of that pair.
func (g *Game) Partner(body core.Body) (partner core.Body, donor bool, ok bool) {
	if r, found := g.pairs[body.ID()]; found {
		return r, true, true
	}
	if d, found := g.recipient[body.ID()]; found {
		return d, false, true
	}
	return core.Body{}, false, false
}

// Trace follows a body's recent behaviour: its most recent donation, then
// the most recent earlier donation of the body it gave to, and so on for at
// most depth links.
func (g *Game) Trace(body core.Body, depth int) []Donation {
	var chain []Donation
	before := g.round + 1
	current := body
	for len(chain) < depth {
		d, ok := g.lastDonation(current, before)
		if !ok {
			break
		}
		chain = append(chain, d)
		current = d.Recipient
		before = d.Round
	}
	return chain
}

func (g *Game) lastDonation(donor core.Body, beforeRound int) (Donation, bool) {
	for i := len(g.history) - 1; i >= 0; i-- {
		d := g.history[i]
		if d.Round < beforeRound && d.Donor.Equal(donor) {
			return d, true
		}
	}
	return Donation{}, false
}

func (g *Game) History() []Donation {
	return append([]Donation(nil), g.history...)
}

// TopBodies returns up to n players ordered by resources, richest first.
// Ties go to the lower id.
func (g *Game) TopBodies(n int) []core.Body {
	ranked := append([]core.Body(nil), g.bodies...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := g.resources[ranked[i].ID()], g.resources[ranked[j].ID()]
		if ri != rj {
			return ri > rj
		}
		return ranked[i].ID() < ranked[j].ID()
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// Clone copies the game. Its pairings for later rounds come from a separate
// source, so simulations never disturb the original's sequence.
func (g *Game) Clone() environment.Domain {
	c := &Game{
		cfg:       g.cfg,
		rng:       rand.New(rand.NewSource(g.cfg.Seed + int64(g.round) + 1)),
		round:     g.round,
		bodies:    append([]core.Body(nil), g.bodies...),
		resources: make(map[int]float64, len(g.resources)),
		pairs:     make(map[int]core.Body, len(g.pairs)),
		recipient: make(map[int]core.Body, len(g.recipient)),
		history:   append([]Donation(nil), g.history...),
	}
	for id, r := range g.resources {
		c.resources[id] = r
	}
	for id, b := range g.pairs {
		c.pairs[id] = b
	}
	for id, b := range g.recipient {
		c.recipient[id] = b
	}
	return c
}
