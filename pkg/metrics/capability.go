package metrics

import (
	"time"
)

// SetCapabilitiesLoaded records the size of the active dispatch table
func SetCapabilitiesLoaded(n int) {
	m := Get()
	if m != nil {
		m.CapabilitiesLoaded.Set(float64(n))
	}
}

// RecordDiscoveryFailure records a module that could not be loaded
func RecordDiscoveryFailure(source string) {
	m := Get()
	if m != nil {
		m.DiscoveryFailuresTotal.WithLabelValues(source).Inc()
	}
}

// RecordSynthesis records the outcome of one synthesis run
func RecordSynthesis(kind string, success bool) {
	m := Get()
	if m == nil {
		return
	}

	status := "failure"
	if success {
		status = "success"
	}
	m.SynthesisTotal.WithLabelValues(kind, status).Inc()
}

// RecordSynthesisStage records the duration of a synthesis pipeline stage
func RecordSynthesisStage(stage string, duration time.Duration) {
	m := Get()
	if m != nil {
		m.SynthesisStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	}
}

// RecordDispatchRequest records a request handled by the line-protocol dispatcher
func RecordDispatchRequest(method string, success bool) {
	m := Get()
	if m == nil {
		return
	}

	status := "failure"
	if success {
		status = "success"
	}
	m.DispatchRequestsTotal.WithLabelValues(method, status).Inc()
}
