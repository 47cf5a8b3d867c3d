package maze

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
	"github.com/boristopalov/agentsim/pkg/planning"
	"github.com/boristopalov/agentsim/pkg/planning/search"
)

const DomainName = "maze"

// Operator names understood by Translate.
const (
	OpGo   = "go"
	OpMove = "move"
)

// Representation exposes the maze to planners. Plans are made of corridor
// operators "go <dir> <n>", each walking n cells in a straight line.
type Representation struct {
	mu  sync.RWMutex
	env *environment.Environment
}

var _ planning.Representation = (*Representation)(nil)

func NewRepresentation() *Representation {
	return &Representation{}
}

func (r *Representation) Domain() string { return DomainName }

func (r *Representation) SetEnvironment(env *environment.Environment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.env = env
}

func (r *Representation) CloneForSimulation() planning.Representation {
	return NewRepresentation()
}

// snapshot reads the body's position and goal status.
func (r *Representation) snapshot(body core.Body) (grid *Grid, pos Cell, reached bool, err error) {
	r.mu.RLock()
	env := r.env
	r.mu.RUnlock()
	if env == nil {
		return nil, Cell{}, false, fmt.Errorf("maze representation is not bound to an environment")
	}

	var found bool
	env.View(func(d environment.Domain) {
		w, ok := d.(*World)
		if !ok {
			err = fmt.Errorf("environment domain is %T, not a maze", d)
			return
		}
		grid = w.Grid()
		pos, found = w.Position(body)
		reached = w.Reached(body)
	})
	if err == nil && !found {
		err = fmt.Errorf("body %s is not in the maze", body)
	}
	return grid, pos, reached, err
}

func (r *Representation) Problem(body core.Body, goal planning.Goal) (planning.Problem, error) {
	target, ok := goal.(Cell)
	if !ok {
		return planning.Problem{}, fmt.Errorf("maze goal must be a Cell, got %T", goal)
	}
	grid, pos, _, err := r.snapshot(body)
	if err != nil {
		return planning.Problem{}, err
	}
	return planning.Problem{
		Domain:      DomainName,
		Name:        fmt.Sprintf("%s-%s-to-%s", body, pos, target),
		Goal:        target,
		Initial:     &node{grid: grid, at: pos},
		Description: describe(grid, pos, target),
	}, nil
}

func describe(grid *Grid, pos, target Cell) string {
	return fmt.Sprintf(`Maze map (# is a wall, A is you, G is a goal; x grows east, y grows south):
%s
You are at %s and must reach the goal at %s.
Operators:
  go <north|south|east|west> <n>   walk n cells in a straight line
  move <north|south|east|west>     walk one cell`,
		grid.Render(map[Cell]byte{pos: 'A'}), pos, target)
}

// RelevantGoals returns the goal cells nearest first. A body that already
// stands on a goal has nothing left to pursue.
func (r *Representation) RelevantGoals(body core.Body) []planning.Goal {
	grid, pos, reached, err := r.snapshot(body)
	if err != nil || reached {
		return nil
	}
	goals := grid.Goals()
	sort.SliceStable(goals, func(i, j int) bool {
		return pos.Distance(goals[i]) < pos.Distance(goals[j])
	})
	out := make([]planning.Goal, len(goals))
	for i, g := range goals {
		out[i] = g
	}
	return out
}

func (r *Representation) IsGoalState(body core.Body, goal planning.Goal) bool {
	target, ok := goal.(Cell)
	if !ok {
		return false
	}
	_, pos, _, err := r.snapshot(body)
	return err == nil && pos == target
}

func (r *Representation) Translate(op planning.Operator, body core.Body) ([]core.Action, error) {
	switch op.Name {
	case OpGo:
		if len(op.Args) != 2 {
			return nil, fmt.Errorf("%q needs a direction and a distance", op)
		}
		d, ok := ParseDirection(op.Args[0])
		if !ok {
			return nil, fmt.Errorf("%q: unknown direction %q", op, op.Args[0])
		}
		n, err := strconv.Atoi(op.Args[1])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%q: distance must be a positive integer", op)
		}
		actions := make([]core.Action, n)
		for i := range actions {
			actions[i] = Move(d)
		}
		return actions, nil
	case OpMove:
		if len(op.Args) != 1 {
			return nil, fmt.Errorf("%q needs a direction", op)
		}
		d, ok := ParseDirection(op.Args[0])
		if !ok {
			return nil, fmt.Errorf("%q: unknown direction %q", op, op.Args[0])
		}
		return []core.Action{Move(d)}, nil
	default:
		return nil, fmt.Errorf("unknown maze operator %q", op.Name)
	}
}

// node is a search state: one body's position on a fixed grid.
type node struct {
	grid *Grid
	at   Cell
}

var _ search.Node = (*node)(nil)

func (n *node) Key() string { return n.at.String() }

func (n *node) Satisfies(goal planning.Goal) bool {
	target, ok := goal.(Cell)
	return ok && n.at == target
}

// Successors generates one corridor edge per reachable distance in each
// direction. A corridor stops at walls and at goal cells.
func (n *node) Successors() []search.Edge {
	// A body that steps on any goal stops there.
	if n.grid.IsGoal(n.at) {
		return nil
	}
	var edges []search.Edge
	for _, d := range Directions {
		cur := n.at
		for dist := 1; ; dist++ {
			next := cur.Step(d)
			if !n.grid.Open(next) {
				break
			}
			cur = next
			edges = append(edges, search.Edge{
				Operator: planning.Operator{Name: OpGo, Args: []string{string(d), strconv.Itoa(dist)}},
				Cost:     float64(dist),
				Next:     &node{grid: n.grid, at: cur},
			})
			if n.grid.IsGoal(cur) {
				break
			}
		}
	}
	return edges
}
