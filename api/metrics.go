package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertCodeFailureSpike  AlertType = "code_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingCounter counts events inside a trailing window.
type slidingCounter struct {
	events    []time.Time
	window    time.Duration
	threshold int
}

// metricsCollector watches audit events for failure spikes across all
// accounts, which per-key lockouts cannot see.
type metricsCollector struct {
	mu sync.Mutex

	// Wrong passwords and unknown emails.
	logins slidingCounter
	// Wrong email, authenticator and backup codes.
	codes slidingCounter

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultCodeFailureWindow     = 5 * time.Minute
	defaultCodeFailureThreshold  = 100
)

func newMetricsCollector(alertFn AlertFunc, now func() time.Time) *metricsCollector {
	if now == nil {
		now = time.Now
	}
	return &metricsCollector{
		logins:  slidingCounter{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		codes:   slidingCounter{window: defaultCodeFailureWindow, threshold: defaultCodeFailureThreshold},
		alertFn: alertFn,
		now:     now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.record(&m.logins, AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditEmailOTPFailure, AuditSecondFactorFailure:
		m.record(&m.codes, AlertCodeFailureSpike, "verification code failure rate exceeds threshold")
	}
}

func (m *metricsCollector) record(c *slidingCounter, typ AlertType, msg string) {
	m.mu.Lock()
	now := m.now()
	c.events = append(c.events, now)
	c.events = trimWindow(c.events, now, c.window)

	var alert *AlertEvent
	if len(c.events) >= c.threshold {
		alert = &AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     len(c.events),
			Threshold: c.threshold,
			Timestamp: now,
		}
		// Reset to avoid repeated alerts within the same spike.
		c.events = c.events[:0]
	}
	m.mu.Unlock()

	if alert != nil {
		m.alertFn(*alert)
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
