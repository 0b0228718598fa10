package api

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// mutationMetrics collects per-request timings for the ordering mutations,
// where a retry storm or slow transaction would first show up.
type mutationMetrics struct {
	logger        *log.Logger
	route         string
	start         time.Time
	applyDuration time.Duration
	errorStage    string
}

func newMutationMetrics(logger *log.Logger, route string) *mutationMetrics {
	return &mutationMetrics{
		logger: logger,
		route:  route,
		start:  time.Now(),
	}
}

func (m *mutationMetrics) ObserveApply(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.applyDuration = duration
}

func (m *mutationMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *mutationMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":    m.route,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.applyDuration > 0 {
		fields["apply_ms"] = durationToMillis(m.applyDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("mutation.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
