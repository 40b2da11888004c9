package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"workout-engine/common/logger"
	"workout-engine/internal/config"
	httpapi "workout-engine/internal/http"
	"workout-engine/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. config
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. logger
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "workout-engine")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. engine
	engine, err := service.NewEngine(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create workout engine", zap.Error(err))
	}
	defer engine.Close()

	server := service.NewServer(cfg.HTTPAddr, httpapi.MakeHandler(engine.Service(), log), log)

	// 4. run until a signal arrives or a component fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Workout engine stopped with error", zap.Error(err))
		return
	}
	log.Info("Workout engine stopped")
}
