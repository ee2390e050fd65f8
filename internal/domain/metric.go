package domain

import "time"

// MetricDefinition names a duration metric computed between two milestone
// event types: duration = latest(LHSEvent).timestamp - latest(RHSEvent).timestamp.
// Definitions are static configuration, independent of any incident instance.
type MetricDefinition struct {
	Name     string
	LHSEvent string
	RHSEvent string
}

// IncidentMetric is a stored duration for one definition on one incident.
type IncidentMetric struct {
	ID         string
	IncidentID string
	Name       string
	Duration   time.Duration
	UpdatedAt  time.Time
}
