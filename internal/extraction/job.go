// Package extraction turns the final metric set of a session into result and recap records.
package extraction

import (
	"context"
	"errors"
	"math"
	"sort"

	"workout-engine/internal/models"

	"go.uber.org/zap"
)

// DefaultTopN how many participants the recap lists as top performers
const DefaultTopN = 3

// EffortFormula scores one participant's session
type EffortFormula func(m models.Metric) float64

// DefaultEffort calories weighted by average heart rate relative to 150 bpm
func DefaultEffort(m models.Metric) float64 {
	return m.Calories * (m.AverageHR / 150)
}

// ResultsSink stores an outcome in one logical write
type ResultsSink interface {
	SaveOutcome(ctx context.Context, outcome models.SessionOutcome) error
}

// EventPublisher announces completed sessions to downstream consumers
type EventPublisher interface {
	SessionCompleted(ctx context.Context, outcome models.SessionOutcome) error
}

type Option func(*Job)

// WithEffortFormula replaces DefaultEffort
func WithEffortFormula(f EffortFormula) Option {
	return func(j *Job) {
		if f != nil {
			j.effort = f
		}
	}
}

// WithTopN sets the number of top performers in the recap
func WithTopN(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.topN = n
		}
	}
}

// WithEvents publishes a completion event after a successful save
func WithEvents(p EventPublisher) Option {
	return func(j *Job) { j.events = p }
}

// Job computes final results for an ended session and persists them
type Job struct {
	sink   ResultsSink
	events EventPublisher
	effort EffortFormula
	topN   int
	logger *zap.Logger
}

func NewJob(sink ResultsSink, logger *zap.Logger, opts ...Option) *Job {
	j := &Job{
		sink:   sink,
		effort: DefaultEffort,
		topN:   DefaultTopN,
		logger: logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run builds the outcome and writes it. The outcome is returned even when the write fails.
func (j *Job) Run(ctx context.Context, session models.Session, metrics []models.Metric) (models.SessionOutcome, error) {
	outcome := j.Build(session, metrics)

	if j.sink != nil {
		if err := j.sink.SaveOutcome(ctx, outcome); err != nil {
			var pe *models.PersistenceError
			if !errors.As(err, &pe) {
				err = &models.PersistenceError{Op: "save session outcome", Err: err}
			}
			return outcome, err
		}
	}

	if j.events != nil {
		if err := j.events.SessionCompleted(ctx, outcome); err != nil {
			j.logger.Warn("Failed to publish session completed event",
				zap.String("session_id", session.ID),
				zap.Error(err),
			)
		}
	}

	j.logger.Info("Session results extracted",
		zap.String("session_id", session.ID),
		zap.Int("participant_count", len(outcome.Results)),
		zap.Float64("total_calories", outcome.Recap.TotalCalories),
	)
	return outcome, nil
}

// Build is the pure part of Run
func (j *Job) Build(session models.Session, metrics []models.Metric) models.SessionOutcome {
	results := make([]models.ResultRecord, 0, len(metrics))
	for _, m := range metrics {
		results = append(results, models.ResultRecord{
			SessionID:        session.ID,
			ParticipantID:    m.ParticipantID,
			ParticipantName:  m.ParticipantName,
			AvgHR:            m.AverageHR,
			MaxHR:            m.MaxHR,
			MinHR:            m.MinHR,
			CaloriesEstimate: m.Calories,
			EffortScore:      j.effort(m),
			ZoneSeconds:      m.ZoneSeconds,
		})
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].EffortScore != results[b].EffortScore {
			return results[a].EffortScore > results[b].EffortScore
		}
		return results[a].ParticipantID < results[b].ParticipantID
	})

	recap := models.RecapRecord{
		SessionID:        session.ID,
		Location:         session.Location,
		ParticipantCount: len(results),
		TopPerformers:    []string{},
	}
	var effortSum float64
	for i := range results {
		results[i].RankOverall = i + 1
		recap.TotalCalories += results[i].CaloriesEstimate
		effortSum += results[i].EffortScore
		if i < j.topN {
			recap.TopPerformers = append(recap.TopPerformers, results[i].ParticipantID)
		}
	}
	if len(results) > 0 {
		recap.AverageEffort = effortSum / float64(len(results))
	}

	if session.EndedAt != nil {
		recap.EndedAt = *session.EndedAt
		if !session.BeginsAt.IsZero() && session.EndedAt.After(session.BeginsAt) {
			recap.DurationSeconds = int(math.Round(session.EndedAt.Sub(session.BeginsAt).Seconds()))
		}
	}

	return models.SessionOutcome{Results: results, Recap: recap}
}
