package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oebus/hvac-plant/internal/api"
	"github.com/oebus/hvac-plant/internal/clock"
	"github.com/oebus/hvac-plant/internal/config"
	"github.com/oebus/hvac-plant/internal/logging"
	"github.com/oebus/hvac-plant/internal/logregistry"
	"github.com/oebus/hvac-plant/internal/runtime"
	"github.com/oebus/hvac-plant/internal/store"
	"github.com/oebus/hvac-plant/internal/wiring"
)

const onewireRoot = "/sys/bus/w1/devices"

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("config_file", cfg.PlantConfigFile).
		Str("state_dir", cfg.StateDir).
		Msg("starting hvac plant controller")

	wired, err := wiring.Build(&cfg, onewireRoot, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire plant object graph from config")
	}

	backend, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open state store")
	}

	rt := runtime.New(wired.Plant)
	rt.PreTick = wired.SampleAll

	world := runtime.NewWorld(rt, backend)
	if err := world.Online(); err != nil {
		log.Fatal().Err(err).Msg("failed to bring plant online")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rt.Run(ctx, clock.NewReal())

	reg := logregistry.New(time.Duration(cfg.PollIntervalSeconds) * time.Second)
	if cfg.DDAgentAddr != "" {
		reg.AddBackend(logregistry.NewStatsDBackend(cfg.DDAgentAddr, cfg.DDNamespace, nil))
	}
	if cfg.PrometheusAddr != "" {
		reg.AddBackend(logregistry.NewPrometheusBackend(cfg.PrometheusAddr))
	}
	wired.RegisterLogSources(reg)
	if err := reg.Online(); err != nil {
		log.Warn().Err(err).Msg("log registry backend failed to come online")
	}
	go reg.Run(ctx)

	var srv *api.Server
	if cfg.APIAddr != "" {
		srv = api.NewServer(world)
		go func() {
			if err := srv.Start(cfg.APIAddr); err != nil {
				log.Error().Err(err).Msg("api server stopped")
			}
		}()
		go srv.RunBroadcaster(ctx, time.Second)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutdown signal received")

	cancel()
	if err := reg.Offline(); err != nil {
		log.Warn().Err(err).Msg("log registry offline failed")
	}
	if err := world.Offline(); err != nil {
		log.Error().Err(err).Msg("failed to persist state during shutdown")
	}
	log.Info().Msg("shutdown complete")
}

// openStore picks SQLiteStore when cfg.DBPath is configured, falling
// back to the file-per-key FileStore under cfg.StateDir otherwise.
func openStore(cfg config.Config) (store.Backend, error) {
	if cfg.DBPath != "" {
		return store.NewSQLiteStore(cfg.DBPath)
	}
	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, err
	}
	return store.NewFileStore(cfg.StateDir), nil
}
