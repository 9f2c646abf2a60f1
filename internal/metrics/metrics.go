package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors of the admission service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Claims        *prometheus.CounterVec
	ClaimDuration prometheus.Histogram
	Rotations     *prometheus.CounterVec
	WindowsClosed *prometheus.CounterVec
	AuditDropped  prometheus.Counter
	AuditFailed   prometheus.Counter
}

// New constructs the collectors and registers them with reg, reusing collectors that are already registered
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = "attendance"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	claims, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "claims_total",
		Help:      "Check-in claims evaluated, partitioned by decision and rejection reason.",
	}, []string{"decision", "reason"}))
	if err != nil {
		return nil, err
	}

	duration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "admission",
		Name:      "claim_duration_seconds",
		Help:      "Time spent evaluating a check-in claim.",
		Buckets:   prometheus.DefBuckets,
	}))
	if err != nil {
		return nil, err
	}

	rotations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "token",
		Name:      "rotations_total",
		Help:      "Proof tokens issued, partitioned by trigger (open, manual, scheduled).",
	}, []string{"trigger"}))
	if err != nil {
		return nil, err
	}

	closed, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "meeting",
		Name:      "windows_closed_total",
		Help:      "Meeting windows closed, partitioned by trigger (manual, expired).",
	}, []string{"trigger"}))
	if err != nil {
		return nil, err
	}

	dropped, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "events_dropped_total",
		Help:      "Audit events dropped because the emitter buffer was full.",
	}))
	if err != nil {
		return nil, err
	}

	failed, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "publish_failures_total",
		Help:      "Audit events that could not be delivered after all retries.",
	}))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Claims:        claims,
		ClaimDuration: duration,
		Rotations:     rotations,
		WindowsClosed: closed,
		AuditDropped:  dropped,
		AuditFailed:   failed,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveClaim records one evaluated claim
func (m *Metrics) ObserveClaim(decision, reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(decision, reason).Inc()
	m.ClaimDuration.Observe(elapsed.Seconds())
}

// IncRotation records one issued token
func (m *Metrics) IncRotation(trigger string) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(trigger).Inc()
}

// IncWindowClosed records one closed window
func (m *Metrics) IncWindowClosed(trigger string) {
	if m == nil {
		return
	}
	m.WindowsClosed.WithLabelValues(trigger).Inc()
}

// IncAuditDropped records an audit event lost to back-pressure
func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// IncAuditFailed records an audit event that exhausted its retries
func (m *Metrics) IncAuditFailed() {
	if m == nil {
		return
	}
	m.AuditFailed.Inc()
}
