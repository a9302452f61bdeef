package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for monitoring the call lifecycle and signal delivery
var (
	// Call lifecycle metrics
	CallsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_started_total",
		Help: "Total number of calls entered on this device",
	}, []string{"call_type", "direction"})

	CallsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_ended_total",
		Help: "Total number of calls that reached a terminal status",
	}, []string{"call_type", "status"})

	CallsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calls_active",
		Help: "1 while a call is connected on this device",
	})

	CallDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of connected calls",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"call_type"})

	CallTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_timeouts_total",
		Help: "Total number of call timers that fired",
	}, []string{"timer"})

	// Signal channel metrics
	SignalsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signals_published_total",
		Help: "Total number of events published on the signal channel",
	}, []string{"kind", "status"})

	SignalsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signals_received_total",
		Help: "Total number of events received from the signal channel",
	}, []string{"kind"})

	SignalsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signals_dropped_total",
		Help: "Total number of inbound events dropped as stale or malformed",
	}, []string{"reason"})

	// Fail-soft metrics
	RemoteWriteFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_write_failures_total",
		Help: "Total number of remote writes degraded to local-only state",
	}, []string{"operation", "error_type"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "remote_circuit_breaker_state",
		Help: "State of the remote store circuit breaker (0=closed, 1=half_open, 2=open)",
	}, []string{"name"})

	SideEffectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_side_effect_failures_total",
		Help: "Total number of swallowed ringtone/haptic failures",
	}, []string{"effect"})
)

// RecordCallStarted records a call entering Calling on this device
func RecordCallStarted(callType, direction string) {
	CallsStartedTotal.WithLabelValues(callType, direction).Inc()
}

// RecordCallEnded records a terminal transition and, when known, its duration
func RecordCallEnded(callType, status string, durationSeconds *int) {
	CallsEndedTotal.WithLabelValues(callType, status).Inc()
	if durationSeconds != nil {
		CallDurationSeconds.WithLabelValues(callType).Observe(float64(*durationSeconds))
	}
}

// SetCallActive flips the active call gauge
func SetCallActive(active bool) {
	if active {
		CallsActive.Set(1)
		return
	}
	CallsActive.Set(0)
}

// RecordCallTimeout records a fired call timer
func RecordCallTimeout(timer string) {
	CallTimeoutsTotal.WithLabelValues(timer).Inc()
}

// RecordSignalPublished records a publish attempt on the signal channel
func RecordSignalPublished(kind string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	SignalsPublishedTotal.WithLabelValues(kind, status).Inc()
}

// RecordSignalReceived records an inbound event
func RecordSignalReceived(kind string) {
	SignalsReceivedTotal.WithLabelValues(kind).Inc()
}

// RecordSignalDropped records an inbound event that was ignored
func RecordSignalDropped(reason string) {
	SignalsDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordRemoteWriteFailure records a remote write that degraded to local-only
func RecordRemoteWriteFailure(operation, errorType string) {
	RemoteWriteFailuresTotal.WithLabelValues(operation, errorType).Inc()
}

// SetCircuitBreakerState publishes the numeric breaker state
func SetCircuitBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordSideEffectFailure records a swallowed device side-effect failure
func RecordSideEffectFailure(effect string) {
	SideEffectFailuresTotal.WithLabelValues(effect).Inc()
}
