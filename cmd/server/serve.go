package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkeye/collabhub/internal/adapters/auth"
	router "github.com/dkeye/collabhub/internal/adapters/http"
	"github.com/dkeye/collabhub/internal/adapters/store"
	appsvc "github.com/dkeye/collabhub/internal/app"
	"github.com/dkeye/collabhub/internal/app/orch"
	"github.com/dkeye/collabhub/internal/config"
	"github.com/dkeye/collabhub/internal/core"
	"github.com/dkeye/collabhub/internal/domain"
	transport "github.com/dkeye/collabhub/internal/transport/http"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration hub",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a.cfg)
		},
	}
}

// buildRecorder returns a nil history source when persistence is disabled.
func buildRecorder(ctx context.Context, cfg *config.Config) (core.Recorder, transport.HistorySource, func()) {
	if !cfg.Redis.Enabled {
		return core.NopRecorder{}, nil, func() {}
	}
	scfg := store.DefaultConfig()
	scfg.Addr = cfg.Redis.Addr
	scfg.Password = cfg.Redis.Password
	scfg.DB = cfg.Redis.DB
	scfg.Prefix = cfg.Redis.Prefix
	rec := store.NewRedisRecorder(store.NewClient(scfg), scfg)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rec.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Str("addr", scfg.Addr).Msg("redis unreachable, operations will be retried per write")
	} else {
		log.Info().Str("addr", scfg.Addr).Msg("redis recorder ready")
	}
	return rec, rec, func() { _ = rec.Close() }
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	authn, err := auth.NewJWTAuthenticator(auth.Config{
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: cfg.Auth.TokenTTL,
	})
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}

	recorder, history, closeRecorder := buildRecorder(ctx, cfg)
	defer closeRecorder()

	dispatcher := appsvc.NewDispatcher(appsvc.SimplePolicy{})
	reg := appsvc.NewRegistry(appsvc.RegistryOptions{
		GracePeriod:    cfg.RoomGracePeriod,
		EchoOriginator: cfg.EchoOriginator,
	}, dispatcher)

	var limiter *appsvc.OperationRateLimiter
	if cfg.Rate.Limit > 0 {
		limiter = appsvc.NewOperationRateLimiter(cfg.Rate.Limit, cfg.Rate.Interval)
	}

	hub := orch.New(orch.Options{
		Registry:  reg,
		Dispatch:  dispatcher,
		Directory: core.SyntaxDirectory{},
		Recorder:  recorder,
		Limiter:   limiter,
		Fields: appsvc.FieldPolicy{
			domain.KindList:   cfg.Fields.List,
			domain.KindRecipe: cfg.Fields.Recipe,
		},
		IdleTimeout: cfg.IdleTimeout,
		PersistWait: cfg.Redis.QueueWait,
	})

	g, gctx := errgroup.WithContext(ctx)

	r := router.SetupRouter(gctx, cfg, hub, authn, history)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("collabhub server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return hub.Run(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
