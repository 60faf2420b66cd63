package conversation

import (
	"maps"
	"time"
)

// MetricKind selects which counter table a key belongs to.
type MetricKind int

const (
	CodePointMetric MetricKind = iota
	InteractionMetric
)

// Metric counts invocations of one code point or interaction.
type Metric struct {
	Total       int64     `json:"total"`
	Version     int64     `json:"version"`
	Build       int64     `json:"build"`
	LastInvoked time.Time `json:"last_invoked_at"`
}

// Metrics holds the invocation history used by targeting criteria.
type Metrics struct {
	Codepoints   map[string]Metric `json:"code_points"`
	Interactions map[string]Metric `json:"interactions"`
}

// NewMetrics returns empty counter tables.
func NewMetrics() Metrics {
	return Metrics{
		Codepoints:   map[string]Metric{},
		Interactions: map[string]Metric{},
	}
}

// IsZero reports whether no invocation has ever been recorded.
func (m Metrics) IsZero() bool {
	return len(m.Codepoints) == 0 && len(m.Interactions) == 0
}

// Lookup returns the counters for key. Unknown keys yield a zero Metric.
func (m Metrics) Lookup(kind MetricKind, key string) (Metric, bool) {
	metric, ok := m.table(kind)[key]
	return metric, ok
}

// Invoke records one invocation.
func (m *Metrics) Invoke(kind MetricKind, key string, now time.Time) {
	if m.Codepoints == nil {
		m.Codepoints = map[string]Metric{}
	}
	if m.Interactions == nil {
		m.Interactions = map[string]Metric{}
	}

	t := m.table(kind)
	metric := t[key]
	metric.Total++
	metric.Version++
	metric.Build++
	metric.LastInvoked = now
	t[key] = metric
}

// ResetVersion zeroes the since-version counters after an app version change.
func (m *Metrics) ResetVersion() {
	for _, t := range []map[string]Metric{m.Codepoints, m.Interactions} {
		for k, metric := range t {
			metric.Version = 0
			t[k] = metric
		}
	}
}

// ResetBuild zeroes the since-build counters after an app build change.
func (m *Metrics) ResetBuild() {
	for _, t := range []map[string]Metric{m.Codepoints, m.Interactions} {
		for k, metric := range t {
			metric.Build = 0
			t[k] = metric
		}
	}
}

// Clone returns a deep copy.
func (m Metrics) Clone() Metrics {
	return Metrics{
		Codepoints:   maps.Clone(m.Codepoints),
		Interactions: maps.Clone(m.Interactions),
	}
}

func (m Metrics) table(kind MetricKind) map[string]Metric {
	if kind == InteractionMetric {
		return m.Interactions
	}
	return m.Codepoints
}
