package core

import "errors"

var (
	// ErrSchedulingFault is fatal to a run: the step cadence was violated
	// beyond tolerance or the environment returned an incomplete reward map.
	ErrSchedulingFault = errors.New("scheduling fault")

	// ErrControllerFault disables a single controller; the run continues.
	ErrControllerFault = errors.New("controller fault")

	// ErrPlanningFault is recorded when a planning task fails.
	ErrPlanningFault = errors.New("planning fault")

	// ErrValidationFault is recorded when a stale plan fails validation.
	ErrValidationFault = errors.New("validation fault")

	// ErrSimulationFault is returned by an environment that cannot step.
	ErrSimulationFault = errors.New("simulation fault")
)
