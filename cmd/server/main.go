package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/ABERsara/worldplay-media/internal/adapters/http"
	wssignal "github.com/ABERsara/worldplay-media/internal/adapters/signal"
	"github.com/ABERsara/worldplay-media/internal/app"
	"github.com/ABERsara/worldplay-media/internal/app/orch"
	"github.com/ABERsara/worldplay-media/internal/config"
	"github.com/ABERsara/worldplay-media/internal/engine"
	"github.com/ABERsara/worldplay-media/internal/recording"
	"github.com/ABERsara/worldplay-media/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	pool, err := engine.NewWorkerPool(cfg.Engine)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media engine")
	}
	defer pool.Close()

	liveStore := store.NewLiveStatusStore(cfg.Store)
	defer liveStore.Close()

	recordings := recording.NewManager(cfg.Recording)
	recordings.OnFinished = liveStore.SetRecordingState

	registry := app.NewSessionRegistry(app.EngineFactory{Pool: pool})
	graph := app.NewGraph()

	orchestrator := &orch.Orchestrator{
		Registry:   registry,
		Graph:      graph,
		Recordings: recordings,
		Store:      liveStore,
		OpTimeout:  cfg.Engine.OpTimeout,
		RecordLive: cfg.Recording.Enabled,
	}

	ctl := wssignal.NewController(orchestrator, cfg.ReadLimit, cfg.PingPeriod)
	r := router.SetupRouter(ctx, cfg, ctl, recordings)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("WorldPlay media server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// A worker fault leaves engine state unrecoverable; exit and let the
	// supervisor restart the process.
	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case err := <-pool.Faults():
			return fmt.Errorf("media engine fault: %w", err)
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		recordings.StopAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("Server exited gracefully")
}
