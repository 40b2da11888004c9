package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"workout-engine/internal/aggregator"
	"workout-engine/internal/models"
	"workout-engine/internal/registry"
	"workout-engine/internal/store"
	"workout-engine/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string]string{}} }

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) Subscribe(ctx context.Context, keys ...string) (<-chan store.Change, error) {
	return make(chan store.Change), nil
}

type idleSource struct {
	mode models.TelemetryMode
}

func (s idleSource) Mode() models.TelemetryMode { return s.mode }
func (s idleSource) Interval() time.Duration    { return time.Hour }
func (s idleSource) Tick(ctx context.Context, active []models.Assignment) ([]models.Sample, error) {
	return nil, nil
}

type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	sessions []models.Session
	metrics  [][]models.Metric
	ctxErrs  []error
	err      error
}

func (f *fakeExtractor) Run(ctx context.Context, s models.Session, metrics []models.Metric) (models.SessionOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.sessions = append(f.sessions, s)
	f.metrics = append(f.metrics, metrics)
	return models.SessionOutcome{Recap: models.RecapRecord{SessionID: s.ID, ParticipantCount: len(metrics)}}, f.err
}

type fakeHistory struct {
	recaps  map[string]models.RecapRecord
	results map[string][]models.ResultRecord
	err     error
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{recaps: map[string]models.RecapRecord{}, results: map[string][]models.ResultRecord{}}
}

func (h *fakeHistory) GetRecap(ctx context.Context, sessionID string) (models.RecapRecord, error) {
	if h.err != nil {
		return models.RecapRecord{}, h.err
	}
	recap, ok := h.recaps[sessionID]
	if !ok {
		return models.RecapRecord{}, &models.NotFoundError{Kind: "recap", ID: sessionID}
	}
	return recap, nil
}

func (h *fakeHistory) ListResults(ctx context.Context, sessionID string) ([]models.ResultRecord, error) {
	return h.results[sessionID], nil
}

type fixture struct {
	manager   *Manager
	registry  *registry.DeviceRegistry
	table     *registry.AssignmentTable
	agg       *aggregator.Aggregator
	kv        *fakeKV
	states    *store.SessionStore
	extractor *fakeExtractor
	history   *fakeHistory
}

func newFixture(t *testing.T, deviceIDs ...string) *fixture {
	t.Helper()
	logger := zap.NewNop()
	reg := registry.NewDeviceRegistry(logger)
	for _, id := range deviceIDs {
		_, err := reg.Upsert(models.Device{ID: id})
		require.NoError(t, err)
	}
	table := registry.NewAssignmentTable(reg, logger)
	agg := aggregator.NewAggregator(100, logger)
	kv := newFakeKV()
	states := store.NewSessionStore(kv, "gym", logger)
	extractor := &fakeExtractor{}
	history := newFakeHistory()

	m := NewManager(Deps{
		Location:   "gym",
		Table:      table,
		Aggregator: agg,
		States:     states,
		Extractor:  extractor,
		History:    history,
		Sources: func(mode models.TelemetryMode) (telemetry.Source, error) {
			return idleSource{mode: mode}, nil
		},
		Logger: logger,
	})
	t.Cleanup(m.Close)

	return &fixture{manager: m, registry: reg, table: table, agg: agg, kv: kv, states: states, extractor: extractor, history: history}
}

func shortConfig() models.SessionConfig {
	return models.SessionConfig{Stations: 1, Rounds: 1, PrepTime: 2, WorkTime: 3, RestTime: 1}
}

func TestStart_AssignsParticipantsAndPersists(t *testing.T) {
	f := newFixture(t, "d1", "d2")
	ctx := context.Background()

	s, err := f.manager.Start(ctx, StartRequest{
		Mode:   models.ModeLive,
		Config: shortConfig(),
		Participants: []models.Assignment{
			{DeviceID: "d1", ParticipantID: "p1", ParticipantName: "Ana"},
			{DeviceID: "d2", ParticipantID: "p2", ParticipantName: "Ben"},
		},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "gym", s.Location)
	assert.Equal(t, models.StatusPreparing, s.Status)
	assert.Equal(t, models.PhasePrep, s.Phase)
	assert.Equal(t, 2, s.Remaining)
	assert.Equal(t, "Get ready", s.CurrentBlock)
	assert.Len(t, s.Participants, 2)
	assert.Empty(t, f.registry.ListAvailable())

	saved, err := f.states.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.ID, saved.ID)
	assert.Len(t, saved.Participants, 2)

	setup, err := f.states.LoadSetup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, setup.WorkTime)
	assert.Equal(t, s.ID, f.agg.SessionID())
}

func TestStart_ConflictRollsBackAssignments(t *testing.T) {
	f := newFixture(t, "d1", "d2")
	ctx := context.Background()

	_, err := f.table.Assign(models.Assignment{DeviceID: "d2", SessionID: "other", ParticipantID: "x"})
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, StartRequest{
		SessionID: "s1",
		Config:    shortConfig(),
		Participants: []models.Assignment{
			{DeviceID: "d1", ParticipantID: "p1"},
			{DeviceID: "d2", ParticipantID: "p2"},
		},
	})
	require.ErrorIs(t, err, models.ErrConflict)

	_, ok := f.manager.Current()
	assert.False(t, ok)
	assert.Empty(t, f.table.ListActive("s1"))
	d1, _ := f.registry.Get("d1")
	assert.False(t, d1.InUse)
}

func TestStart_RejectsUnknownMode(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Start(context.Background(), StartRequest{Mode: "bluetooth"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestStart_ReplacesRunningSession(t *testing.T) {
	f := newFixture(t, "d1")
	ctx := context.Background()

	first, err := f.manager.Start(ctx, StartRequest{SessionID: "s1", Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)

	second, err := f.manager.Start(ctx, StartRequest{SessionID: "s2", Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Empty(t, f.table.ListActive("s1"))
	assert.Len(t, f.table.ListActive("s2"), 1)
	assert.Equal(t, 0, f.extractor.calls)
}

func TestStart_RejectedRequestKeepsRunningSession(t *testing.T) {
	f := newFixture(t, "d1", "d2", "d3")
	ctx := context.Background()

	_, err := f.manager.Start(ctx, StartRequest{SessionID: "old", Config: shortConfig()})
	require.NoError(t, err)
	_, err = f.manager.EndSession(ctx, "old")
	require.NoError(t, err)

	_, err = f.manager.Start(ctx, StartRequest{SessionID: "live", Mode: models.ModeLive, Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)
	_, err = f.table.Assign(models.Assignment{DeviceID: "d3", SessionID: "other", ParticipantID: "x"})
	require.NoError(t, err)

	rejected := []StartRequest{
		{SessionID: "old", Config: shortConfig()},
		{SessionID: "next", Config: shortConfig(), Participants: []models.Assignment{{DeviceID: "d2"}, {DeviceID: "d3"}}},
		{SessionID: "next", Config: shortConfig(), Participants: []models.Assignment{{DeviceID: "missing"}}},
		{SessionID: "next", Config: shortConfig(), Participants: []models.Assignment{{DeviceID: "d2"}, {DeviceID: "d2"}}},
	}
	for _, req := range rejected {
		_, err := f.manager.Start(ctx, req)
		require.Error(t, err)

		cur, ok := f.manager.Current()
		require.True(t, ok)
		assert.Equal(t, "live", cur.ID)
		assert.Len(t, cur.Participants, 1)
		assert.Empty(t, f.table.ListActive("next"))
	}

	saved, err := f.states.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "live", saved.ID)
	d2, _ := f.registry.Get("d2")
	assert.False(t, d2.InUse)
	assert.Equal(t, 1, f.extractor.calls)

	// the running session's own device may move to its replacement
	_, err = f.manager.Start(ctx, StartRequest{SessionID: "next", Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)
	assert.Empty(t, f.table.ListActive("live"))
	assert.Len(t, f.table.ListActive("next"), 1)
}

func TestTick_CompletionEndsSessionInSameStep(t *testing.T) {
	f := newFixture(t, "d1")
	ctx := context.Background()

	s, err := f.manager.Start(ctx, StartRequest{SessionID: "s1", Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)

	var last Transition
	for i := 0; i < 5; i++ {
		if tr, changed := f.manager.Tick(ctx); changed {
			last = tr
		}
	}
	assert.Equal(t, models.PhaseComplete, last.To)
	assert.Equal(t, s.ID, last.SessionID)

	_, ok := f.manager.Current()
	assert.False(t, ok)
	assert.Equal(t, 1, f.extractor.calls)
	_, stored := f.manager.Outcome(s.ID)
	assert.True(t, stored)

	// a session started right after completion is untouched by the next ticks
	_, err = f.manager.Start(ctx, StartRequest{SessionID: "s2", Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)
	f.manager.Tick(ctx)

	cur, ok := f.manager.Current()
	require.True(t, ok)
	assert.Equal(t, "s2", cur.ID)
	assert.Equal(t, 1, f.extractor.calls)
}

func TestTick_PersistsTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, StartRequest{Config: shortConfig()})
	require.NoError(t, err)

	_, changed := f.manager.Tick(ctx)
	assert.False(t, changed)

	tr, changed := f.manager.Tick(ctx)
	require.True(t, changed)
	assert.Equal(t, models.PhasePrep, tr.From)
	assert.Equal(t, models.PhaseWork, tr.To)

	cur, ok := f.manager.Current()
	require.True(t, ok)
	assert.Equal(t, models.StatusActive, cur.Status)
	assert.Equal(t, "Round 1/1 · Station 1", cur.CurrentBlock)

	saved, err := f.states.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseWork, saved.Phase)
	assert.Equal(t, 3, saved.Remaining)
}

func TestTick_NoSession(t *testing.T) {
	f := newFixture(t)

	_, changed := f.manager.Tick(context.Background())
	assert.False(t, changed)
}

func TestEndSession_IsIdempotent(t *testing.T) {
	f := newFixture(t, "d1")
	ctx := context.Background()

	s, err := f.manager.Start(ctx, StartRequest{SessionID: "s1", Mode: models.ModeLive, Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)

	f.agg.Apply(ctx, []models.Sample{{ParticipantID: "p1", HeartRate: 140, CumulativeCalories: 12}}, f.table.ListActive(s.ID))

	outcome, err := f.manager.EndSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Recap.ParticipantCount)

	again, err := f.manager.EndSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome, again)
	assert.Equal(t, 1, f.extractor.calls)

	ended := f.extractor.sessions[0]
	assert.Equal(t, models.StatusComplete, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.Len(t, ended.Participants, 1)
	require.Len(t, f.extractor.metrics[0], 1)
	assert.Equal(t, 12.0, f.extractor.metrics[0][0].Calories)

	_, ok := f.manager.Current()
	assert.False(t, ok)
	d1, _ := f.registry.Get("d1")
	assert.False(t, d1.InUse)

	saved, err := f.states.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, saved.Status)

	_, err = f.manager.Start(ctx, StartRequest{SessionID: "s1", Config: shortConfig()})
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestEndSession_UnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.EndSession(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEndSession_PersistenceFailureStillClears(t *testing.T) {
	f := newFixture(t, "d1")
	ctx := context.Background()
	f.extractor.err = &models.PersistenceError{Op: "save results", Err: errors.New("db down")}

	s, err := f.manager.Start(ctx, StartRequest{Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)

	_, err = f.manager.EndSession(ctx, s.ID)
	assert.ErrorIs(t, err, models.ErrPersistence)

	_, ok := f.manager.Current()
	assert.False(t, ok)
	assert.Len(t, f.registry.ListAvailable(), 1)

	_, err = f.manager.EndSession(ctx, s.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.extractor.calls)
}

func TestEndSession_ConcurrentCallsExtractOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.manager.Start(ctx, StartRequest{Config: shortConfig()})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.manager.EndSession(ctx, s.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.extractor.calls)
}

func TestReset_ReleasesWithoutExtraction(t *testing.T) {
	f := newFixture(t, "d1")
	ctx := context.Background()

	_, err := f.manager.Start(ctx, StartRequest{Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)

	f.manager.Reset(ctx)

	_, ok := f.manager.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, f.extractor.calls)
	assert.Len(t, f.registry.ListAvailable(), 1)
	_, err = f.states.LoadSession(ctx)
	assert.ErrorIs(t, err, store.ErrMiss)

	assert.NotPanics(t, func() { f.manager.Reset(ctx) })
}

func TestResume_RestoresPersistedPhase(t *testing.T) {
	f := newFixture(t, "d1")
	ctx := context.Background()

	require.NoError(t, f.states.SaveSession(ctx, models.Session{
		ID:       "s9",
		Location: "gym",
		Status:   models.StatusRest,
		Mode:     models.ModeSimulated,
		Config:   models.SessionConfig{Stations: 2, Rounds: 2, PrepTime: 10, WorkTime: 30, RestTime: 10},
		Participants: []models.Assignment{
			{ID: "old", DeviceID: "d1", SessionID: "s9", ParticipantID: "p1", Assigned: true},
		},
		PhaseState: models.PhaseState{Phase: models.PhaseRest, Remaining: 1, Round: 1, StationID: 1},
	}))

	s, err := f.manager.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s9", s.ID)
	assert.Equal(t, models.PhaseRest, s.Phase)
	require.Len(t, s.Participants, 1)
	assert.Equal(t, "p1", s.Participants[0].ParticipantID)

	tr, changed := f.manager.Tick(ctx)
	require.True(t, changed)
	assert.Equal(t, models.PhaseWork, tr.To)
	assert.Equal(t, 2, tr.StationID)
}

func TestResume_NothingToResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Resume(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)

	now := time.Now()
	require.NoError(t, f.states.SaveSession(ctx, models.Session{ID: "done", Status: models.StatusComplete, EndedAt: &now}))
	_, err = f.manager.Resume(ctx)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStart_KVFailureDoesNotBlockSession(t *testing.T) {
	f := newFixture(t)
	f.kv.err = errors.New("redis down")

	s, err := f.manager.Start(context.Background(), StartRequest{Config: shortConfig()})
	require.NoError(t, err)
	assert.Equal(t, models.PhasePrep, s.Phase)
}

func TestUpdatePlan_RelabelsCurrentBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, StartRequest{Config: models.SessionConfig{Stations: 1, Rounds: 1, PrepTime: 1, WorkTime: 5}})
	require.NoError(t, err)
	f.manager.Tick(ctx)

	f.manager.UpdatePlan(models.StationPlan{Stations: []models.Station{{ID: 1, Name: "Bike", Exercises: []string{"Sprint"}}}})

	cur, _ := f.manager.Current()
	assert.Equal(t, "Round 1/1 · Bike: Sprint", cur.CurrentBlock)
}

func TestSubscribe_ReceivesLatestSnapshot(t *testing.T) {
	f := newFixture(t, "d1")
	ctx := context.Background()

	s, err := f.manager.Start(ctx, StartRequest{SessionID: "s1", Mode: models.ModeLive, Config: shortConfig(),
		Participants: []models.Assignment{{DeviceID: "d1", ParticipantID: "p1"}}})
	require.NoError(t, err)

	snaps, cancel := f.manager.Subscribe()
	defer cancel()

	active := f.table.ListActive(s.ID)
	f.agg.Apply(ctx, []models.Sample{{ParticipantID: "p1", HeartRate: 120, CumulativeCalories: 4}}, active)
	f.agg.Apply(ctx, []models.Sample{{ParticipantID: "p1", HeartRate: 130, CumulativeCalories: 6}}, active)

	select {
	case snap := <-snaps:
		require.Len(t, snap.Metrics, 1)
		assert.Equal(t, 130, snap.Metrics[0].CurrentHR)
		assert.Equal(t, "s1", snap.SessionID)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestEndSession_DetachedFromCallerContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Start(context.Background(), StartRequest{SessionID: "s1", Config: shortConfig()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.manager.EndSession(ctx, "s1")
	require.NoError(t, err)

	require.Len(t, f.extractor.ctxErrs, 1)
	assert.NoError(t, f.extractor.ctxErrs[0])
}

func TestEndSession_FallsBackToHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.history.recaps["archived"] = models.RecapRecord{SessionID: "archived", ParticipantCount: 2}
	f.history.results["archived"] = []models.ResultRecord{{SessionID: "archived", ParticipantID: "a"}, {SessionID: "archived", ParticipantID: "b"}}

	outcome, err := f.manager.EndSession(ctx, "archived")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Recap.ParticipantCount)
	assert.Len(t, outcome.Results, 2)
	assert.Equal(t, 0, f.extractor.calls)

	_, err = f.manager.Start(ctx, StartRequest{SessionID: "archived", Config: shortConfig()})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.manager.EndSession(ctx, "never")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStart_HistoryFailureRejectsExplicitID(t *testing.T) {
	f := newFixture(t)
	f.history.err = errors.New("postgres down")

	_, err := f.manager.Start(context.Background(), StartRequest{SessionID: "s1", Config: shortConfig()})
	assert.Error(t, err)
	_, ok := f.manager.Current()
	assert.False(t, ok)

	// generated ids need no lookup
	_, err = f.manager.Start(context.Background(), StartRequest{Config: shortConfig()})
	assert.NoError(t, err)
}
