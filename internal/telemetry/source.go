// Package telemetry produces heart-rate samples for the active participants of a session.
package telemetry

import (
	"context"
	"time"

	"workout-engine/internal/models"
)

const (
	SimulatorInterval = 2000 * time.Millisecond
	PollerInterval    = 1000 * time.Millisecond
)

// Source yields one batch of samples per tick.
// Only one source runs per session; a polling source can be replaced by a push one
// without touching the aggregator.
type Source interface {
	Mode() models.TelemetryMode
	Interval() time.Duration
	Tick(ctx context.Context, active []models.Assignment) ([]models.Sample, error)
}

// MetricsReader last published metric per participant
type MetricsReader interface {
	Latest(participantID string) (models.Metric, bool)
}
