package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"workout-engine/common/database"
	commonmetrics "workout-engine/common/metrics"
	"workout-engine/common/mqtt"
	commonredis "workout-engine/common/redis"
	"workout-engine/internal/aggregator"
	"workout-engine/internal/config"
	"workout-engine/internal/extraction"
	"workout-engine/internal/models"
	"workout-engine/internal/registry"
	"workout-engine/internal/repository"
	"workout-engine/internal/scoring"
	"workout-engine/internal/session"
	"workout-engine/internal/store"
	"workout-engine/internal/telemetry"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const svcName = "workout_engine"

// Engine owns every connection and background loop of the process
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	db          *sql.DB
	redisClient *commonredis.Client
	mqttClient  *mqtt.Client
	archiveConn driver.Conn

	states  *store.SessionStore
	manager *session.Manager
	clock   *session.Clock
	svc     Service
}

// NewEngine connects to Postgres, Redis and the optional broker and archive, then wires the session stack
func NewEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	e := &Engine{cfg: cfg, logger: logger}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	e.db = db
	results := repository.NewResultsRepository(db, logger)
	if err := results.EnsureSchema(ctx); err != nil {
		e.Close()
		return nil, err
	}

	e.redisClient, err = commonredis.Connect(ctx, &cfg.Redis)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	kv := store.NewRedisKV(e.redisClient, logger)
	e.states = store.NewSessionStore(kv, cfg.Location, logger)

	publishers := []aggregator.Publisher{
		aggregator.NewCachePublisher(kv, cfg.Publish.MetricsCacheTTL, logger),
	}
	if cfg.Publish.MQTTEnabled {
		e.mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			e.Close()
			return nil, err
		}
		publishers = append(publishers, aggregator.NewBroadcastPublisher(e.mqttClient, cfg.Location, logger))
	}
	if cfg.Publish.ArchiveEnabled {
		e.archiveConn, err = database.NewClickHouseConn(ctx, &cfg.ClickHouse)
		if err != nil {
			e.Close()
			return nil, err
		}
		archive := repository.NewSampleArchive(e.archiveConn, logger)
		if err := archive.InitSchema(ctx); err != nil {
			e.Close()
			return nil, err
		}
		publishers = append(publishers, archive)
	}

	agg := aggregator.NewAggregator(cfg.Telemetry.SampleWindow, logger, publishers...)
	devices := registry.NewDeviceRegistry(logger)
	table := registry.NewAssignmentTable(devices, logger)
	client := telemetry.NewHTTPDeviceClient(cfg.Telemetry.BaseURL, cfg.Telemetry.Timeout, logger)

	job := extraction.NewJob(results, logger,
		extraction.WithTopN(cfg.Results.TopN),
		extraction.WithEvents(extraction.NewStreamEvents(e.redisClient, cfg.Publish.EventStream)),
	)

	e.manager = session.NewManager(session.Deps{
		Location:      cfg.Location,
		Table:         table,
		Aggregator:    agg,
		States:        e.states,
		Extractor:     job,
		History:       results,
		Sources:       SourceFactory(cfg, agg, client, logger),
		Strategies:    StrategyFactory(cfg.Telemetry.CaloriePolicy),
		RunnerMetrics: telemetry.NewMetrics(prometheus.DefaultRegisterer),
		Logger:        logger,
	})
	e.clock = session.NewClock(e.manager, logger)

	var discovery registry.Discovery
	if cfg.Telemetry.BaseURL != "" {
		discovery = client
	}

	svc := New(Deps{
		Manager:     e.manager,
		Devices:     devices,
		Table:       table,
		Discovery:   discovery,
		Results:     results,
		DefaultMode: models.TelemetryMode(cfg.Telemetry.Mode),
	})
	svc = Logging(logger, svc)
	counter, latency := commonmetrics.MakeMetrics(svcName, "api")
	e.svc = Metrics(counter, latency, svc)

	return e, nil
}

// SourceFactory builds the telemetry source of a mode from configuration
func SourceFactory(cfg *config.Config, agg *aggregator.Aggregator, client telemetry.DeviceClient, logger *zap.Logger) session.SourceFactory {
	return func(mode models.TelemetryMode) (telemetry.Source, error) {
		switch mode {
		case models.ModeSimulated:
			rng := rand.New(rand.NewSource(time.Now().UnixNano()))
			return telemetry.NewSimulator(agg, cfg.Telemetry.SimulatorInterval, rng, logger), nil
		case models.ModeLive:
			return telemetry.NewLivePoller(client, cfg.Telemetry.PollerInterval, logger), nil
		default:
			return nil, fmt.Errorf("%w: telemetry mode %q", models.ErrInvalidInput, mode)
		}
	}
}

// StrategyFactory applies a configured calorie policy on top of the mode defaults
func StrategyFactory(policy string) session.StrategyFactory {
	p, set, _ := scoring.ParseCaloriePolicy(policy)
	return func(mode models.TelemetryMode) (scoring.Strategy, error) {
		s, err := scoring.ForMode(mode)
		if err != nil {
			return nil, err
		}
		if set {
			s = scoring.WithPolicy(s, p)
		}
		return s, nil
	}
}

// Service the instrumented engine service
func (e *Engine) Service() Service { return e.svc }

// Run resumes a persisted session, then drives the clock, device sync and plan watch until ctx ends
func (e *Engine) Run(ctx context.Context) error {
	if s, err := e.manager.Resume(ctx); err == nil {
		e.logger.Info("Resumed persisted session", zap.String("session_id", s.ID))
	} else if !errors.Is(err, models.ErrNotFound) {
		e.logger.Warn("Failed to resume persisted session", zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.clock.Run(ctx)
	})
	g.Go(func() error {
		RunDeviceSync(ctx, e.svc, e.cfg.Devices.SyncInterval, e.logger)
		return nil
	})
	g.Go(func() error {
		return RunPlanWatch(ctx, e.states, e.manager, e.logger)
	})
	return g.Wait()
}

// RunDeviceSync refreshes the registry from discovery now and on every interval
func RunDeviceSync(ctx context.Context, svc Service, interval time.Duration, logger *zap.Logger) {
	syncOnce := func() {
		if _, err := svc.SyncDevices(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Device sync failed", zap.Error(err))
		}
	}
	syncOnce()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncOnce()
		}
	}
}

// PlanUpdater receives station plan changes
type PlanUpdater interface {
	UpdatePlan(plan models.StationPlan)
}

// RunPlanWatch applies station plans written by the host app to the running session
func RunPlanWatch(ctx context.Context, states *store.SessionStore, updater PlanUpdater, logger *zap.Logger) error {
	plans, err := states.WatchPlan(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch station plan: %w", err)
	}
	for plan := range plans {
		logger.Info("Station plan updated", zap.Int("station_count", len(plan.Stations)))
		updater.UpdatePlan(plan)
	}
	return nil
}

// Close stops telemetry and releases every connection
func (e *Engine) Close() {
	if e.manager != nil {
		e.manager.Close()
	}
	if e.mqttClient != nil {
		e.mqttClient.Disconnect()
	}
	if e.archiveConn != nil {
		if err := e.archiveConn.Close(); err != nil {
			e.logger.Warn("Failed to close clickhouse connection", zap.Error(err))
		}
	}
	if e.redisClient != nil {
		if err := commonredis.Close(e.redisClient); err != nil {
			e.logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if err := database.Close(e.db); err != nil {
		e.logger.Warn("Failed to close database", zap.Error(err))
	}
}
