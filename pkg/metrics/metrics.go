package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/boristopalov/agentsim/pkg/logger"
)

const (
	namespace = "agentsim"

	subsystemExecutor = "executor"
	subsystemPlanning = "planning"
)

// Planning outcomes.
const (
	OutcomeReady     = "ready"
	OutcomeEmpty     = "empty"
	OutcomeException = "exception"
	OutcomeCancelled = "cancelled"
)

var (
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemExecutor,
			Name:      "steps_total",
			Help:      "Total number of completed environment steps",
		},
		[]string{"run"},
	)

	stepDuration = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystemExecutor,
			Name:      "step_duration_milliseconds",
			Help:      "Time spent inside Environment.Step (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.99: 0.01,
			},
		},
		[]string{"run"},
	)

	interStepDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemExecutor,
			Name:      "inter_step_delay_seconds",
			Help:      "Measured wall-clock delay between consecutive steps",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"run"},
	)

	schedulingFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemExecutor,
			Name:      "scheduling_faults_total",
			Help:      "Runs aborted by a scheduling fault, by reason",
		},
		[]string{"reason"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemExecutor,
			Name:      "notifications_total",
			Help:      "Reward notifications handed to controllers",
		},
		[]string{"controller"},
	)

	notificationsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemExecutor,
			Name:      "notifications_in_flight",
			Help:      "Notification tasks currently running per controller",
		},
		[]string{"controller"},
	)

	controllersDisabled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemExecutor,
			Name:      "controllers_disabled_total",
			Help:      "Controllers disabled during a run, by reason",
		},
		[]string{"reason"},
	)

	planLength = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemPlanning,
			Name:      "plan_length",
			Help:      "Number of primitive actions in accepted plans",
			Buckets:   prometheus.LinearBuckets(0, 5, 12),
		},
		[]string{"domain"},
	)

	planningLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemPlanning,
			Name:      "latency_seconds",
			Help:      "Time from starting a planning task to observing its result",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"domain"},
	)

	planningOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPlanning,
			Name:      "outcomes_total",
			Help:      "Planning task outcomes (ready, empty, exception, cancelled)",
		},
		[]string{"domain", "outcome"},
	)

	validationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPlanning,
			Name:      "validation_failures_total",
			Help:      "Plans discarded by validation",
		},
		[]string{"domain", "method"},
	)

	translationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemPlanning,
			Name:      "translation_failures_total",
			Help:      "Plans discarded because an operator could not be translated",
		},
		[]string{"domain"},
	)
)

// SetupMetricsEndpoint starts an HTTP server exposing /metrics.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.For("metrics").Errorf("Metrics endpoint stopped: %v", err)
		}
	}()

	return server
}

func ObserveStep(run string, duration time.Duration) {
	stepsTotal.WithLabelValues(run).Inc()
	stepDuration.WithLabelValues(run).Observe(float64(duration.Milliseconds()))
}

func ObserveInterStepDelay(run string, delay time.Duration) {
	interStepDelay.WithLabelValues(run).Observe(delay.Seconds())
}

func IncSchedulingFault(reason string) {
	schedulingFaults.WithLabelValues(reason).Inc()
}

func IncNotification(controller string) {
	notificationsTotal.WithLabelValues(controller).Inc()
}

func SetInFlight(controller string, n int) {
	notificationsInFlight.WithLabelValues(controller).Set(float64(n))
}

func IncControllerDisabled(reason string) {
	controllersDisabled.WithLabelValues(reason).Inc()
}

func ObservePlan(domain string, length int, latency time.Duration) {
	planLength.WithLabelValues(domain).Observe(float64(length))
	planningLatency.WithLabelValues(domain).Observe(latency.Seconds())
	planningOutcomes.WithLabelValues(domain, OutcomeReady).Inc()
}

func IncPlanningOutcome(domain, outcome string) {
	planningOutcomes.WithLabelValues(domain, outcome).Inc()
}

func IncValidationFailure(domain, method string) {
	validationFailures.WithLabelValues(domain, method).Inc()
}

func IncTranslationFailure(domain string) {
	translationFailures.WithLabelValues(domain).Inc()
}
