package store

import (
	"context"
	"testing"
	"time"

	"workout-engine/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisKV(t *testing.T) (*miniredis.Miniredis, *RedisKV) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisKV(client, zap.NewNop())
}

func TestRedisKV_GetSet(t *testing.T) {
	mr, kv := setupRedisKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.Equal(t, time.Minute, mr.TTL("k"))

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisKV_SubscribeReceivesWrites(t *testing.T) {
	_, kv := setupRedisKV(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := kv.Subscribe(ctx, "workout:gym:plan")
	require.NoError(t, err)

	require.NoError(t, kv.Set(context.Background(), "workout:gym:other", "ignored", 0))
	require.NoError(t, kv.Set(context.Background(), "workout:gym:plan", `{"stations":[]}`, 0))

	select {
	case change := <-changes:
		assert.Equal(t, "workout:gym:plan", change.Key)
		assert.Equal(t, `{"stations":[]}`, change.Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-changes:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisKV_SubscribeRequiresKeys(t *testing.T) {
	_, kv := setupRedisKV(t)

	_, err := kv.Subscribe(context.Background())
	assert.Error(t, err)
}

func TestSessionStore_RoundTrip(t *testing.T) {
	_, kv := setupRedisKV(t)
	s := NewSessionStore(kv, "rooftop", zap.NewNop())
	ctx := context.Background()

	_, err := s.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrMiss)
	_, err = s.LoadSetup(ctx)
	assert.ErrorIs(t, err, ErrMiss)

	plan, err := s.LoadPlan(ctx)
	require.NoError(t, err)
	assert.Empty(t, plan.Stations)

	cfg := models.SessionConfig{Stations: 3, Rounds: 2, PrepTime: 10, WorkTime: 40, RestTime: 20}
	require.NoError(t, s.SaveSetup(ctx, cfg))
	gotCfg, err := s.LoadSetup(ctx)
	require.NoError(t, err)
	assert.Equal(t, cfg, gotCfg)

	session := models.Session{
		ID:       "s1",
		Location: "rooftop",
		Status:   models.StatusActive,
		Mode:     models.ModeLive,
		Config:   cfg,
		PhaseState: models.PhaseState{
			Phase: models.PhaseWork, Remaining: 17, Round: 2, StationID: 3,
		},
	}
	require.NoError(t, s.SaveSession(ctx, session))

	raw, err := kv.Get(ctx, "workout:rooftop:session")
	require.NoError(t, err)
	assert.Contains(t, raw, `"phase":"work"`)

	got, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, models.PhaseWork, got.Phase)
	assert.Equal(t, 17, got.Remaining)
	assert.Equal(t, 3, got.StationID)

	require.NoError(t, s.ClearSession(ctx))
	_, err = s.LoadSession(ctx)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestSessionStore_WatchPlan(t *testing.T) {
	_, kv := setupRedisKV(t)
	s := NewSessionStore(kv, "gym", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plans, err := s.WatchPlan(ctx)
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, s.Key(KeyPlan), "not json", 0))
	require.NoError(t, s.SavePlan(ctx, models.StationPlan{Stations: []models.Station{{ID: 1, Name: "Rower"}}}))

	select {
	case plan := <-plans:
		require.Len(t, plan.Stations, 1)
		assert.Equal(t, "Rower", plan.Stations[0].Name)
	case <-time.After(2 * time.Second):
		t.Fatal("no plan delivered")
	}
}
