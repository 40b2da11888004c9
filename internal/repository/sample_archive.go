package repository

import (
	"context"
	"fmt"

	"workout-engine/internal/aggregator"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const samplesTable = `
CREATE TABLE IF NOT EXISTS workout_samples (
	timestamp           DateTime64(3),
	session_id          String,
	participant_id      String,
	device_id           String,
	assignment_id       String,
	heart_rate          UInt16,
	cumulative_calories Float64,
	zone                UInt8,
	intensity_percent   Float64
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(timestamp)
ORDER BY (session_id, participant_id, timestamp)`

// ArchiveConn the part of driver.Conn the archive uses
type ArchiveConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
}

// SampleArchive appends every accepted tick of samples to ClickHouse.
// It is an aggregator publisher, so a slow archive never holds the metric lock.
type SampleArchive struct {
	conn   ArchiveConn
	logger *zap.Logger
}

func NewSampleArchive(conn ArchiveConn, logger *zap.Logger) *SampleArchive {
	return &SampleArchive{conn: conn, logger: logger}
}

// InitSchema creates the samples table if it doesn't exist
func (a *SampleArchive) InitSchema(ctx context.Context) error {
	if err := a.conn.Exec(ctx, samplesTable); err != nil {
		return fmt.Errorf("failed to create samples table: %w", err)
	}
	return nil
}

func (a *SampleArchive) Name() string { return "archive" }

// Publish writes the snapshot's samples as one batch
func (a *SampleArchive) Publish(ctx context.Context, snap aggregator.Snapshot) error {
	if len(snap.Samples) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO workout_samples")
	if err != nil {
		return fmt.Errorf("failed to prepare sample batch: %w", err)
	}

	for _, s := range snap.Samples {
		if err := batch.Append(
			s.Timestamp,
			snap.SessionID,
			s.ParticipantID,
			s.DeviceID,
			s.AssignmentID,
			uint16(s.HeartRate),
			s.CumulativeCalories,
			uint8(s.Zone),
			s.IntensityPercent,
		); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append sample: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send sample batch: %w", err)
	}

	a.logger.Debug("Archived samples",
		zap.String("session_id", snap.SessionID),
		zap.Int("sample_count", len(snap.Samples)),
	)
	return nil
}
