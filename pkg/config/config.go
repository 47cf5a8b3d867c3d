// Package config loads experiment definitions from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/boristopalov/agentsim/pkg/planning"
)

// Environment types.
const (
	EnvMaze      = "maze"
	EnvDonorGame = "donor_game"
)

// Controller kinds.
const (
	ControllerRandom   = "random"
	ControllerPlanning = "planning"
	ControllerLLM      = "llm"
)

// Planner kinds.
const (
	PlannerSearch = "search"
	PlannerLLM    = "llm"
)

// Pacing and dispatch spellings.
const (
	PacingRealTime    = "real_time"
	PacingSynchronous = "synchronous"
	DispatchSync      = "sync"
	DispatchAsync     = "async"
)

const DefaultModel = "gpt-4o-mini"

type ExperimentConfig struct {
	Name                     string        `yaml:"name"`
	Generations              int           `yaml:"generations"`
	StepDelay                time.Duration `yaml:"step_delay"`
	MaxSteps                 uint64        `yaml:"max_steps"`
	MaxNotificationInstances int           `yaml:"max_notification_instances"`
	Debug                    bool          `yaml:"debug"`
	DriftTolerance           float64       `yaml:"drift_tolerance"`
	Pacing                   string        `yaml:"pacing"`
	Dispatch                 string        `yaml:"dispatch"`
	Workers                  int           `yaml:"workers"`
	ShutdownTimeout          time.Duration `yaml:"shutdown_timeout"`
	DisablePenalty           float64       `yaml:"disable_penalty"`
	Environment              EnvConfig     `yaml:"environment"`
	Agents                   []AgentConfig `yaml:"agents"`
	Logging                  LogConfig     `yaml:"logging"`
	Metrics                  MetricsConfig `yaml:"metrics"`
	Output                   OutputConfig  `yaml:"output"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type OutputConfig struct {
	SummaryCSV string `yaml:"summary_csv"`
}

type AgentConfig struct {
	Type       string `yaml:"type"`
	Controller string `yaml:"controller"`
	Count      int    `yaml:"count"`
	Planner    string `yaml:"planner"`
	Validation string `yaml:"validation"`
	Model      string `yaml:"model"`
	Seed       int64  `yaml:"seed"`
	Strategy   string `yaml:"strategy"`
	// Actions for the random controller, in the environment's own
	// spelling (directions for the maze, amounts for the donor game).
	Actions []string `yaml:"actions"`
}

type EnvConfig struct {
	Type   string         `yaml:"type"`
	Config map[string]any `yaml:"config"`
}

// Decode re-reads the free-form environment config into out.
func (e EnvConfig) Decode(out any) error {
	if len(e.Config) == 0 {
		return nil
	}
	b, err := yaml.Marshal(e.Config)
	if err != nil {
		return fmt.Errorf("environment config: %w", err)
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("environment config: %w", err)
	}
	return nil
}

type MazeConfig struct {
	// Map holds the layout inline; File points at a layout on disk.
	Map  string `yaml:"map"`
	File string `yaml:"file"`
}

type DonorGameConfig struct {
	Rounds         int     `yaml:"rounds"`
	Multiplier     float64 `yaml:"multiplier"`
	InitialBalance float64 `yaml:"initial_balance"`
	Seed           int64   `yaml:"seed"`
	SurvivorRatio  float64 `yaml:"survivor_ratio"`
}

// LoadConfig reads, normalizes and validates an experiment file.
func LoadConfig(path string) (*ExperimentConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// resolvePaths makes a relative maze file relative to the config's directory.
func (c *ExperimentConfig) resolvePaths(dir string) {
	if c.Environment.Type != EnvMaze {
		return
	}
	file, ok := c.Environment.Config["file"].(string)
	if !ok || file == "" || filepath.IsAbs(file) {
		return
	}
	c.Environment.Config["file"] = filepath.Join(dir, file)
}

func Parse(b []byte) (*ExperimentConfig, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func Defaults() *ExperimentConfig {
	return &ExperimentConfig{
		Name:                     "experiment",
		Generations:              1,
		StepDelay:                100 * time.Millisecond,
		MaxNotificationInstances: 2,
		DriftTolerance:           1.2,
		Pacing:                   PacingRealTime,
		Dispatch:                 DispatchSync,
		Logging: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Normalize fills per-agent defaults and lowercases enumerations.
func (c *ExperimentConfig) Normalize() {
	c.Pacing = strings.ToLower(strings.TrimSpace(c.Pacing))
	c.Dispatch = strings.ToLower(strings.TrimSpace(c.Dispatch))
	c.Environment.Type = strings.ToLower(strings.TrimSpace(c.Environment.Type))
	if c.Generations == 0 {
		c.Generations = 1
	}
	for i := range c.Agents {
		a := &c.Agents[i]
		a.Controller = strings.ToLower(strings.TrimSpace(a.Controller))
		a.Planner = strings.ToLower(strings.TrimSpace(a.Planner))
		if a.Count == 0 {
			a.Count = 1
		}
		if a.Controller == ControllerPlanning && a.Planner == "" {
			a.Planner = PlannerSearch
		}
		if a.Model == "" && (a.Controller == ControllerLLM || a.Planner == PlannerLLM) {
			a.Model = DefaultModel
		}
	}
}

// Validate reports every problem at once.
func (c *ExperimentConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Generations < 1 {
		errs = append(errs, fmt.Errorf("generations must be at least 1, got %d", c.Generations))
	}
	if c.StepDelay <= 0 {
		errs = append(errs, fmt.Errorf("step_delay must be positive, got %s", c.StepDelay))
	}
	if c.MaxNotificationInstances < 1 {
		errs = append(errs, fmt.Errorf("max_notification_instances must be at least 1, got %d", c.MaxNotificationInstances))
	}
	if c.DriftTolerance < 1 {
		errs = append(errs, fmt.Errorf("drift_tolerance must be at least 1, got %.2f", c.DriftTolerance))
	}
	if c.Pacing != PacingRealTime && c.Pacing != PacingSynchronous {
		errs = append(errs, fmt.Errorf("unknown pacing %q", c.Pacing))
	}
	if c.Dispatch != DispatchSync && c.Dispatch != DispatchAsync {
		errs = append(errs, fmt.Errorf("unknown dispatch %q", c.Dispatch))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.DisablePenalty < 0 {
		errs = append(errs, fmt.Errorf("disable_penalty is subtracted from the total and must not be negative, got %.2f", c.DisablePenalty))
	}

	switch c.Environment.Type {
	case EnvMaze:
		var m MazeConfig
		if err := c.Environment.Decode(&m); err != nil {
			errs = append(errs, err)
		} else if strings.TrimSpace(m.Map) == "" && m.File == "" {
			errs = append(errs, errors.New("maze needs a map or a file"))
		}
	case EnvDonorGame:
		var d DonorGameConfig
		if err := c.Environment.Decode(&d); err != nil {
			errs = append(errs, err)
		} else if d.SurvivorRatio < 0 || d.SurvivorRatio > 1 {
			errs = append(errs, fmt.Errorf("survivor_ratio must be between 0 and 1, got %.2f", d.SurvivorRatio))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown environment type %q", c.Environment.Type))
	}

	if len(c.Agents) == 0 {
		errs = append(errs, errors.New("at least one agent is required"))
	}
	for i, a := range c.Agents {
		if err := a.validate(c.Environment.Type); err != nil {
			errs = append(errs, fmt.Errorf("agents[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (a AgentConfig) validate(envType string) error {
	if a.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", a.Count)
	}
	switch a.Controller {
	case ControllerRandom:
	case ControllerPlanning:
		if envType != EnvMaze {
			return fmt.Errorf("planning controllers need a maze environment, got %q", envType)
		}
		if a.Planner != PlannerSearch && a.Planner != PlannerLLM {
			return fmt.Errorf("unknown planner %q", a.Planner)
		}
		method, err := planning.ParseValidationMethod(a.Validation)
		if err != nil {
			return err
		}
		switch method {
		case planning.ValidationExternal:
			return fmt.Errorf("validation %q cannot be configured from a file", method)
		case planning.ValidationSimulationOneStep:
			return fmt.Errorf("%q: %w", method, planning.ErrUnsupportedValidation)
		}
	case ControllerLLM:
		if envType != EnvDonorGame {
			return fmt.Errorf("llm controllers need a donor_game environment, got %q", envType)
		}
	default:
		return fmt.Errorf("unknown controller %q", a.Controller)
	}
	return nil
}
