package environment

import "github.com/boristopalov/agentsim/pkg/core"

// TickResult is what a domain computes for one simulation tick.
type TickResult struct {
	// Rewards must hold an entry for every body passed to Tick.
	Rewards map[core.Body]float64
	// Failed marks bodies whose action was accepted but could not be carried
	// out (walking into a wall, donating without a partner, ...).
	Failed map[core.Body]bool
}

// Domain defines the physics and reward rules of one kind of world.
// The Environment serializes every mutating call; IsRecognizedAction and
// read-only accessors may run concurrently with each other but never with a
// mutation, so implementations need no locking of their own.
type Domain interface {
	// AddBody places a newly created body in the world.
	AddBody(body core.Body) error
	// RemoveBody takes a body out of the world.
	RemoveBody(body core.Body)
	// IsRecognizedAction reports whether the action is valid for the body's type.
	IsRecognizedAction(body core.Body, action core.Action) bool
	// Tick advances the world by one step. actions holds exactly one action per
	// active body, NoOp for bodies that submitted nothing.
	Tick(actions map[core.Body]core.Action) (TickResult, error)
	// IsTerminal reports whether the world reached a final state.
	IsTerminal() bool
	// Clone returns an independent deep copy used for simulation.
	Clone() Domain
}
