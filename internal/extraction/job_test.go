package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"workout-engine/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	saved []models.SessionOutcome
	err   error
}

func (s *recordingSink) SaveOutcome(ctx context.Context, outcome models.SessionOutcome) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, outcome)
	return nil
}

type countingEvents struct {
	calls int
	err   error
}

func (c *countingEvents) SessionCompleted(ctx context.Context, outcome models.SessionOutcome) error {
	c.calls++
	return c.err
}

func endedSession() models.Session {
	begins := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ended := begins.Add(25*time.Minute + 400*time.Millisecond)
	return models.Session{ID: "s1", Location: "gym", BeginsAt: begins, EndedAt: &ended, Status: models.StatusComplete}
}

func TestRun_WorkedExample(t *testing.T) {
	sink := &recordingSink{}
	job := NewJob(sink, zap.NewNop())

	outcome, err := job.Run(context.Background(), endedSession(), []models.Metric{
		{ParticipantID: "a", Calories: 300, AverageHR: 150, MaxHR: 170, MinHR: 90},
		{ParticipantID: "b", Calories: 200, AverageHR: 120},
	})
	require.NoError(t, err)
	require.Len(t, sink.saved, 1)

	require.Len(t, outcome.Results, 2)
	assert.Equal(t, "a", outcome.Results[0].ParticipantID)
	assert.InDelta(t, 300, outcome.Results[0].EffortScore, 1e-9)
	assert.Equal(t, 1, outcome.Results[0].RankOverall)
	assert.Equal(t, 170, outcome.Results[0].MaxHR)
	assert.Equal(t, "b", outcome.Results[1].ParticipantID)
	assert.InDelta(t, 160, outcome.Results[1].EffortScore, 1e-9)
	assert.Equal(t, 2, outcome.Results[1].RankOverall)

	recap := outcome.Recap
	assert.Equal(t, "s1", recap.SessionID)
	assert.Equal(t, "gym", recap.Location)
	assert.Equal(t, 500.0, recap.TotalCalories)
	assert.Equal(t, 2, recap.ParticipantCount)
	assert.InDelta(t, 230, recap.AverageEffort, 1e-9)
	assert.Equal(t, []string{"a", "b"}, recap.TopPerformers)
	assert.Equal(t, 1500, recap.DurationSeconds)
}

func TestBuild_TiesBreakByParticipantID(t *testing.T) {
	job := NewJob(nil, zap.NewNop())

	outcome := job.Build(endedSession(), []models.Metric{
		{ParticipantID: "c", Calories: 100, AverageHR: 150},
		{ParticipantID: "a", Calories: 100, AverageHR: 150},
		{ParticipantID: "b", Calories: 100, AverageHR: 150},
	})

	ids := []string{outcome.Results[0].ParticipantID, outcome.Results[1].ParticipantID, outcome.Results[2].ParticipantID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestBuild_TopNAndEmpty(t *testing.T) {
	job := NewJob(nil, zap.NewNop(), WithTopN(2))

	var metrics []models.Metric
	for i, id := range []string{"p1", "p2", "p3", "p4"} {
		metrics = append(metrics, models.Metric{ParticipantID: id, Calories: float64(10 * (i + 1)), AverageHR: 150})
	}
	outcome := job.Build(endedSession(), metrics)
	assert.Equal(t, []string{"p4", "p3"}, outcome.Recap.TopPerformers)

	empty := job.Build(endedSession(), nil)
	assert.Empty(t, empty.Results)
	assert.Equal(t, 0, empty.Recap.ParticipantCount)
	assert.Equal(t, 0.0, empty.Recap.AverageEffort)
	assert.NotNil(t, empty.Recap.TopPerformers)
}

func TestWithEffortFormula(t *testing.T) {
	job := NewJob(nil, zap.NewNop(), WithEffortFormula(func(m models.Metric) float64 {
		return m.ZoneSeconds[4]
	}))

	outcome := job.Build(endedSession(), []models.Metric{
		{ParticipantID: "a", Calories: 500, AverageHR: 170},
		{ParticipantID: "b", Calories: 10, AverageHR: 100, ZoneSeconds: [models.ZoneCount]float64{0, 0, 0, 0, 60}},
	})

	assert.Equal(t, "b", outcome.Results[0].ParticipantID)
	assert.Equal(t, 60.0, outcome.Results[0].EffortScore)
}

func TestRun_SinkFailureReturnsOutcome(t *testing.T) {
	events := &countingEvents{}
	job := NewJob(&recordingSink{err: errors.New("connection refused")}, zap.NewNop(), WithEvents(events))

	outcome, err := job.Run(context.Background(), endedSession(), []models.Metric{{ParticipantID: "a", Calories: 1, AverageHR: 150}})

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.Len(t, outcome.Results, 1)
	assert.Equal(t, 0, events.calls)
}

func TestRun_EventFailureIsNotFatal(t *testing.T) {
	events := &countingEvents{err: errors.New("stream unavailable")}
	job := NewJob(&recordingSink{}, zap.NewNop(), WithEvents(events))

	_, err := job.Run(context.Background(), endedSession(), nil)

	assert.NoError(t, err)
	assert.Equal(t, 1, events.calls)
}

func TestStreamEvents_AppendsCompletionEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	job := NewJob(&recordingSink{}, zap.NewNop(), WithEvents(NewStreamEvents(client, "workout:events")))
	_, err := job.Run(context.Background(), endedSession(), []models.Metric{{ParticipantID: "a", Calories: 30, AverageHR: 150}})
	require.NoError(t, err)

	entries, err := client.XRange(context.Background(), "workout:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventSessionCompleted, entries[0].Values["type"])

	var outcome models.SessionOutcome
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &outcome))
	assert.Equal(t, "s1", outcome.Recap.SessionID)
	assert.Equal(t, []string{"a"}, outcome.Recap.TopPerformers)
}
