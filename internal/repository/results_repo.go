package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"workout-engine/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const resultsSchema = `
CREATE TABLE IF NOT EXISTS workout_results (
	session_id        TEXT NOT NULL,
	participant_id    TEXT NOT NULL,
	participant_name  TEXT NOT NULL DEFAULT '',
	avg_hr            DOUBLE PRECISION NOT NULL,
	max_hr            INTEGER NOT NULL,
	min_hr            INTEGER NOT NULL,
	calories_estimate DOUBLE PRECISION NOT NULL,
	effort_score      DOUBLE PRECISION NOT NULL,
	zone1_sec         DOUBLE PRECISION NOT NULL DEFAULT 0,
	zone2_sec         DOUBLE PRECISION NOT NULL DEFAULT 0,
	zone3_sec         DOUBLE PRECISION NOT NULL DEFAULT 0,
	zone4_sec         DOUBLE PRECISION NOT NULL DEFAULT 0,
	zone5_sec         DOUBLE PRECISION NOT NULL DEFAULT 0,
	rank_overall      INTEGER NOT NULL,
	PRIMARY KEY (session_id, participant_id)
);
CREATE TABLE IF NOT EXISTS workout_recaps (
	session_id        TEXT PRIMARY KEY,
	location          TEXT NOT NULL,
	total_calories    DOUBLE PRECISION NOT NULL,
	participant_count INTEGER NOT NULL,
	average_effort    DOUBLE PRECISION NOT NULL,
	top_performers    TEXT[] NOT NULL DEFAULT '{}',
	duration_seconds  INTEGER NOT NULL,
	ended_at          TIMESTAMPTZ NOT NULL
);`

// ResultsRepository relational sink for session results and recaps
type ResultsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewResultsRepository(db *sql.DB, logger *zap.Logger) *ResultsRepository {
	return &ResultsRepository{db: db, logger: logger}
}

// EnsureSchema creates the results tables if they are missing
func (r *ResultsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, resultsSchema); err != nil {
		return fmt.Errorf("failed to create results schema: %w", err)
	}
	return nil
}

// SaveOutcome writes every result row and the recap in one transaction
func (r *ResultsRepository) SaveOutcome(ctx context.Context, outcome models.SessionOutcome) error {
	if outcome.Recap.SessionID == "" {
		return &models.PersistenceError{Op: "save outcome", Err: errors.New("session_id is required")}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.PersistenceError{Op: "begin results transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertResult = `
		INSERT INTO workout_results (
			session_id, participant_id, participant_name, avg_hr, max_hr, min_hr,
			calories_estimate, effort_score,
			zone1_sec, zone2_sec, zone3_sec, zone4_sec, zone5_sec, rank_overall
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (session_id, participant_id) DO NOTHING`

	for _, res := range outcome.Results {
		z := res.ZoneSeconds
		if _, err := tx.ExecContext(ctx, insertResult,
			res.SessionID, res.ParticipantID, res.ParticipantName, res.AvgHR, res.MaxHR, res.MinHR,
			res.CaloriesEstimate, res.EffortScore,
			z[0], z[1], z[2], z[3], z[4], res.RankOverall,
		); err != nil {
			return &models.PersistenceError{Op: "insert result " + res.ParticipantID, Err: err}
		}
	}

	const insertRecap = `
		INSERT INTO workout_recaps (
			session_id, location, total_calories, participant_count,
			average_effort, top_performers, duration_seconds, ended_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO NOTHING`

	recap := outcome.Recap
	if _, err := tx.ExecContext(ctx, insertRecap,
		recap.SessionID, recap.Location, recap.TotalCalories, recap.ParticipantCount,
		recap.AverageEffort, pq.Array(recap.TopPerformers), recap.DurationSeconds, recap.EndedAt,
	); err != nil {
		return &models.PersistenceError{Op: "insert recap", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &models.PersistenceError{Op: "commit results", Err: err}
	}

	r.logger.Info("Session outcome saved",
		zap.String("session_id", recap.SessionID),
		zap.Int("result_count", len(outcome.Results)),
	)
	return nil
}

// ListResults returns the stored results of a session in rank order
func (r *ResultsRepository) ListResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", models.ErrInvalidInput)
	}

	query := `
		SELECT session_id, participant_id, participant_name, avg_hr, max_hr, min_hr,
		       calories_estimate, effort_score,
		       zone1_sec, zone2_sec, zone3_sec, zone4_sec, zone5_sec, rank_overall
		FROM workout_results
		WHERE session_id = $1
		ORDER BY rank_overall ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	results := []models.ResultRecord{}
	for rows.Next() {
		var res models.ResultRecord
		z := &res.ZoneSeconds
		if err := rows.Scan(
			&res.SessionID, &res.ParticipantID, &res.ParticipantName, &res.AvgHR, &res.MaxHR, &res.MinHR,
			&res.CaloriesEstimate, &res.EffortScore,
			&z[0], &z[1], &z[2], &z[3], &z[4], &res.RankOverall,
		); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return results, nil
}

// GetRecap returns the stored recap of a session
func (r *ResultsRepository) GetRecap(ctx context.Context, sessionID string) (models.RecapRecord, error) {
	query := `
		SELECT session_id, location, total_calories, participant_count,
		       average_effort, top_performers, duration_seconds, ended_at
		FROM workout_recaps
		WHERE session_id = $1
	`
	var recap models.RecapRecord
	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&recap.SessionID, &recap.Location, &recap.TotalCalories, &recap.ParticipantCount,
		&recap.AverageEffort, pq.Array(&recap.TopPerformers), &recap.DurationSeconds, &recap.EndedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RecapRecord{}, &models.NotFoundError{Kind: "recap", ID: sessionID}
		}
		return models.RecapRecord{}, fmt.Errorf("failed to get recap: %w", err)
	}
	return recap, nil
}
