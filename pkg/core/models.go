package core

import (
	"fmt"
	"time"
)

// AgentType tags a body with the kind of agent driving it.
// Types are plain values built once from configuration and compared by value.
type AgentType struct {
	Name string
}

func (t AgentType) String() string {
	return t.Name
}

// Body is the environment-side handle identifying one agent instance.
// Ids are unique within one environment; bodies are only ever issued by the
// environment, so the struct is safe to use as a map key.
type Body struct {
	id        int
	agentType AgentType
}

// NewBody is used by environments to mint handles.
func NewBody(id int, agentType AgentType) Body {
	return Body{id: id, agentType: agentType}
}

func (b Body) ID() int {
	return b.id
}

func (b Body) Type() AgentType {
	return b.agentType
}

// Equal compares bodies by id only.
func (b Body) Equal(other Body) bool {
	return b.id == other.id
}

func (b Body) String() string {
	return fmt.Sprintf("%s#%d", b.agentType.Name, b.id)
}

// Action is a primitive action accepted by an environment.
type Action struct {
	Type    string
	Content any
}

const NoOpType = "noop"

// NoOp is applied for every body that submitted nothing since the last step.
var NoOp = Action{Type: NoOpType}

func (a Action) IsNoOp() bool {
	return a.Type == NoOpType
}

func (a Action) String() string {
	if a.Content == nil {
		return a.Type
	}
	return fmt.Sprintf("%s(%v)", a.Type, a.Content)
}

// ControllerResult is the final accounting for one bound controller.
type ControllerResult struct {
	ControllerID string
	Body         Body
	TotalReward  float64
	Disabled     bool
	Fault        error
}

// ExecutionResult is produced once, at the end of a run.
type ExecutionResult struct {
	RunID        string
	Controllers  []ControllerResult
	StepsElapsed uint64
	FinalState   string
	StartTime    time.Time
	EndTime      time.Time
	// Err is the failure channel of the run. It is nil for runs that ended
	// normally, by step budget or by cancellation.
	Err error
}

// TotalReward returns the total for a controller id, false if unknown.
func (r *ExecutionResult) TotalReward(controllerID string) (float64, bool) {
	for _, c := range r.Controllers {
		if c.ControllerID == controllerID {
			return c.TotalReward, true
		}
	}
	return 0, false
}

// BodyOf returns the body a controller was bound to.
func (r *ExecutionResult) BodyOf(controllerID string) (Body, bool) {
	for _, c := range r.Controllers {
		if c.ControllerID == controllerID {
			return c.Body, true
		}
	}
	return Body{}, false
}

// Controller returns the full result entry for a controller id.
func (r *ExecutionResult) Controller(controllerID string) (ControllerResult, bool) {
	for _, c := range r.Controllers {
		if c.ControllerID == controllerID {
			return c, true
		}
	}
	return ControllerResult{}, false
}
