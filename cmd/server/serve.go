package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	router "github.com/dkeye/Intercom/internal/adapters/http"
	"github.com/dkeye/Intercom/internal/adapters/mdns"
	"github.com/dkeye/Intercom/internal/adapters/mqtt"
	sigws "github.com/dkeye/Intercom/internal/adapters/signal"
	"github.com/dkeye/Intercom/internal/app"
	"github.com/dkeye/Intercom/internal/app/orch"
	"github.com/dkeye/Intercom/internal/auth"
	"github.com/dkeye/Intercom/internal/config"
	"github.com/dkeye/Intercom/internal/metrics"
	"github.com/dkeye/Intercom/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyLogLevel(cfg.LogLevel)
	cfg.Watch(applyLogLevel)

	db, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	profiles := store.NewProfileStore(db)
	if err := profiles.EnsureSchema(ctx); err != nil {
		return err
	}

	verifier, err := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		return err
	}
	gate := auth.NewGate(verifier, profiles, cfg.Auth.ProfileCacheSize, cfg.Auth.ProfileCacheTTL)

	m := metrics.New()
	var sinks []app.PresenceSink
	if cfg.MQTT.Broker != "" {
		mirror, err := mqtt.Dial(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic)
		if err != nil {
			return err
		}
		defer mirror.Close()
		sinks = append(sinks, mirror)
	}

	policy := app.PolicyByName(cfg.Backpressure)
	reg := app.NewRegistry()
	sessions := app.NewSessionTracker(cfg.Calls.RingTimeout)
	o := &orch.Orchestrator{
		Registry: reg,
		Sessions: sessions,
		Presence: app.NewPresence(reg, policy, m, sinks...),
		Router:   app.NewRouter(reg, sessions, policy, m),
		Metrics:  m,
		Interval: cfg.Presence.Interval,
	}

	limiter := sigws.NewRateLimiter(cfg.RateLimit.Frames, cfg.RateLimit.Interval)
	r := router.SetupRouter(ctx, cfg, o, gate, limiter, m)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	if cfg.MDNS.Enabled {
		stop, err := mdns.StartAdvertising(cfg.MDNS.Instance, cfg.Port, "/ws")
		if err != nil {
			log.Warn().Err(err).Msg("mdns advertising disabled")
		} else {
			defer stop()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Intercom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		return o.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		o.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
