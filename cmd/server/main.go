package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pulsedate/realtime/config"
	"github.com/pulsedate/realtime/src/auth"
	"github.com/pulsedate/realtime/src/bridge"
	"github.com/pulsedate/realtime/src/hub"
	"github.com/pulsedate/realtime/src/match"
	"github.com/pulsedate/realtime/src/notify"
	"github.com/pulsedate/realtime/src/presence"
	"github.com/pulsedate/realtime/src/server"
	"github.com/pulsedate/realtime/src/store"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func run(logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	h := hub.New(logger)
	go h.Run()
	defer h.Stop()

	// The bridge is optional: without Redis the hub runs standalone.
	rb := initBridge(h, logger)
	if rb != nil {
		h.SetBridge(rb)
		defer func() {
			if err := rb.Stop(); err != nil {
				logger.Error().Err(err).Msg("bridge stop error")
			}
		}()
	}

	st := store.NewMemoryStore()
	tracker := presence.NewTracker(logger)
	resolver := auth.NewJWTResolver([]byte(cfg.JWTSecret))
	notifier := notify.New(h, logger)
	coordinator := match.NewCoordinator(st, notifier, logger)

	srv := server.New(cfg, h, st, tracker, resolver, notifier, coordinator, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("starting server")
		return srv.Listen(ctx)
	})

	return g.Wait()
}

// initBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func initBridge(h *hub.Hub, logger zerolog.Logger) *bridge.RedisBridge {
	cfg := bridge.RedisConfigFromEnv()
	rb := bridge.NewRedisBridge(cfg, h, logger)

	if err := rb.Start(); err != nil {
		logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return nil
	}

	logger.Info().Str("redis_addr", cfg.Addr).Msg("redis bridge connected")
	return rb
}
