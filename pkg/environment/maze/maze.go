// Package maze is a grid world where bodies walk from start cells to goal
// cells.
package maze

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/boristopalov/agentsim/pkg/core"
	"github.com/boristopalov/agentsim/pkg/environment"
)

const (
	Wall  = '#'
	Floor = '.'
	Start = 'S'
	Goal  = 'G'
)

const ActionMove = "move"

const (
	StepReward = -1.0
	BumpReward = -1.0
	GoalReward = 10.0
)

var Walker = core.AgentType{Name: "walker"}

var ErrInvalidMap = errors.New("invalid maze map")

type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
)

// Directions lists every direction in the order successors are generated.
var Directions = []Direction{North, East, South, West}

func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case North, South, East, West:
		return d, true
	}
	return "", false
}

// Move returns the primitive action that walks one cell in d.
func Move(d Direction) core.Action {
	return core.Action{Type: ActionMove, Content: d}
}

type Cell struct {
	X, Y int
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Y)
}

func (c Cell) Step(d Direction) Cell {
	switch d {
	case North:
		return Cell{c.X, c.Y - 1}
	case South:
		return Cell{c.X, c.Y + 1}
	case East:
		return Cell{c.X + 1, c.Y}
	case West:
		return Cell{c.X - 1, c.Y}
	}
	return c
}

func (c Cell) Distance(o Cell) int {
	return abs(c.X-o.X) + abs(c.Y-o.Y)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Grid is an immutable parsed map. Rows run north to south.
type Grid struct {
	rows   []string
	starts []Cell
	goals  []Cell
}

// Parse reads a map, one row per line. Blank lines are ignored and rows may
// differ in length; missing cells count as walls.
func Parse(r io.Reader) (*Grid, error) {
	g := &Grid{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}
		y := len(g.rows)
		for x, ch := range line {
			switch ch {
			case Wall, Floor:
			case Start:
				g.starts = append(g.starts, Cell{x, y})
			case Goal:
				g.goals = append(g.goals, Cell{x, y})
			default:
				return nil, fmt.Errorf("row %d column %d: unexpected %q: %w", y, x, ch, ErrInvalidMap)
			}
		}
		g.rows = append(g.rows, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read maze: %w", err)
	}
	if len(g.starts) == 0 {
		return nil, fmt.Errorf("no start cell: %w", ErrInvalidMap)
	}
	if len(g.goals) == 0 {
		return nil, fmt.Errorf("no goal cell: %w", ErrInvalidMap)
	}
	return g, nil
}

func ParseString(s string) (*Grid, error) {
	return Parse(strings.NewReader(s))
}

func LoadFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open maze %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func (g *Grid) Open(c Cell) bool {
	if c.Y < 0 || c.Y >= len(g.rows) || c.X < 0 || c.X >= len(g.rows[c.Y]) {
		return false
	}
	return g.rows[c.Y][c.X] != Wall
}

func (g *Grid) IsGoal(c Cell) bool {
	for _, goal := range g.goals {
		if goal == c {
			return true
		}
	}
	return false
}

func (g *Grid) Starts() []Cell { return append([]Cell(nil), g.starts...) }

func (g *Grid) Goals() []Cell { return append([]Cell(nil), g.goals...) }

// Render draws the grid with marks placed over it.
func (g *Grid) Render(marks map[Cell]byte) string {
	var sb strings.Builder
	for y, row := range g.rows {
		line := []byte(row)
		for c, m := range marks {
			if c.Y == y && c.X >= 0 && c.X < len(line) {
				line[c.X] = m
			}
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// World is the maze Domain. New bodies are placed on the start cells in
// order, wrapping around when there are more bodies than starts.
type World struct {
	grid      *Grid
	positions map[int]Cell
	reached   map[int]bool
	active    map[int]bool
	placed    int
}

var _ environment.Domain = (*World)(nil)

func NewWorld(grid *Grid) *World {
	return &World{
		grid:      grid,
		positions: make(map[int]Cell),
		reached:   make(map[int]bool),
		active:    make(map[int]bool),
	}
}

func (w *World) Grid() *Grid { return w.grid }

func (w *World) AddBody(body core.Body) error {
	if _, ok := w.positions[body.ID()]; ok {
		return fmt.Errorf("body %s already placed", body)
	}
	start := w.grid.starts[w.placed%len(w.grid.starts)]
	w.placed++
	w.positions[body.ID()] = start
	w.active[body.ID()] = true
	w.reached[body.ID()] = w.grid.IsGoal(start)
	return nil
}

func (w *World) RemoveBody(body core.Body) {
	delete(w.active, body.ID())
}

func (w *World) IsRecognizedAction(body core.Body, action core.Action) bool {
	if action.IsNoOp() {
		return true
	}
	if action.Type != ActionMove {
		return false
	}
	_, ok := direction(action.Content)
	return ok
}

func direction(content any) (Direction, bool) {
	switch v := content.(type) {
	case Direction:
		return ParseDirection(string(v))
	case string:
		return ParseDirection(v)
	}
	return "", false
}

func (w *World) Tick(actions map[core.Body]core.Action) (environment.TickResult, error) {
	result := environment.TickResult{
		Rewards: make(map[core.Body]float64, len(actions)),
		Failed:  make(map[core.Body]bool),
	}
	for body, action := range actions {
		id := body.ID()
		pos, ok := w.positions[id]
		if !ok {
			return environment.TickResult{}, fmt.Errorf("body %s is not in the maze", body)
		}
		if w.reached[id] {
			result.Rewards[body] = 0
			continue
		}

		reward := StepReward
		if !action.IsNoOp() {
			d, _ := direction(action.Content)
			next := pos.Step(d)
			if w.grid.Open(next) {
				w.positions[id] = next
				if w.grid.IsGoal(next) {
					w.reached[id] = true
					reward += GoalReward
				}
			} else {
				reward += BumpReward
				result.Failed[body] = true
			}
		}
		result.Rewards[body] = reward
	}
	return result, nil
}

// IsTerminal reports whether every active body stands on a goal.
func (w *World) IsTerminal() bool {
	if len(w.active) == 0 {
		return false
	}
	for id := range w.active {
		if !w.reached[id] {
			return false
		}
	}
	return true
}

func (w *World) Position(body core.Body) (Cell, bool) {
	c, ok := w.positions[body.ID()]
	return c, ok
}

func (w *World) Reached(body core.Body) bool {
	return w.reached[body.ID()]
}

func (w *World) Clone() environment.Domain {
	c := NewWorld(w.grid)
	c.placed = w.placed
	for id, p := range w.positions {
		c.positions[id] = p
	}
	for id, r := range w.reached {
		c.reached[id] = r
	}
	for id, a := range w.active {
		c.active[id] = a
	}
	return c
}
