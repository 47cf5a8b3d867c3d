package executor

import (
	"time"

	"go.uber.org/zap"

	"github.com/boristopalov/agentsim/pkg/messaging"
)

// Pacing decides when steps run.
type Pacing int

const (
	// RealTime runs one step per step delay and enforces drift detection.
	RealTime Pacing = iota
	// Synchronous runs steps back to back with no wall-clock pacing.
	Synchronous
)

func (p Pacing) String() string {
	if p == Synchronous {
		return "synchronous"
	}
	return "real_time"
}

// Dispatch decides where notifications run.
type Dispatch int

const (
	// SyncDispatch runs notifications inline on the scheduler goroutine.
	SyncDispatch Dispatch = iota
	// AsyncDispatch runs notifications on a bounded worker pool.
	AsyncDispatch
)

func (d Dispatch) String() string {
	if d == AsyncDispatch {
		return "async"
	}
	return "sync"
}

const (
	DefaultStepDelay                = 100 * time.Millisecond
	DefaultMaxNotificationInstances = 2
	DefaultDriftTolerance           = 1.2
)

type options struct {
	stepDelay       time.Duration
	maxInstances    int
	debug           bool
	maxSteps        uint64
	driftTolerance  float64
	shutdownTimeout time.Duration
	pacing          Pacing
	dispatch        Dispatch
	workers         int
	disablePenalty  float64
	broker          messaging.Broker
	logger          *zap.SugaredLogger
}

type Option func(*options)

// WithStepDelay sets the nominal period between steps.
func WithStepDelay(d time.Duration) Option {
	return func(o *options) {
		o.stepDelay = d
	}
}

// WithMaxNotificationInstances sets how many notifications may be in flight
// for one controller before it is disabled.
func WithMaxNotificationInstances(n int) Option {
	return func(o *options) {
		o.maxInstances = n
	}
}

// WithDebug disables the drift fault.
func WithDebug(debug bool) Option {
	return func(o *options) {
		o.debug = debug
	}
}

// WithMaxSteps bounds the run. Zero means unlimited.
func WithMaxSteps(n uint64) Option {
	return func(o *options) {
		o.maxSteps = n
	}
}

// WithDriftTolerance sets the factor of the step delay two step starts may be
// apart before the run aborts.
func WithDriftTolerance(f float64) Option {
	return func(o *options) {
		o.driftTolerance = f
	}
}

// WithShutdownTimeout bounds how long a finished run waits for in-flight
// notifications.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}

func WithPacing(p Pacing) Option {
	return func(o *options) {
		o.pacing = p
	}
}

func WithDispatch(d Dispatch) Option {
	return func(o *options) {
		o.dispatch = d
	}
}

// WithWorkers sets the async worker pool size. The default is enough for
// every controller to reach its ceiling.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithDisablePenalty sets the amount subtracted from a disabled controller's
// body total when it is removed from the environment.
func WithDisablePenalty(p float64) Option {
	return func(o *options) {
		o.disablePenalty = p
	}
}

// WithBroker publishes lifecycle events to b.
func WithBroker(b messaging.Broker) Option {
	return func(o *options) {
		o.broker = b
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func defaultOptions() options {
	return options{
		stepDelay:      DefaultStepDelay,
		maxInstances:   DefaultMaxNotificationInstances,
		driftTolerance: DefaultDriftTolerance,
		pacing:         RealTime,
		dispatch:       SyncDispatch,
	}
}
