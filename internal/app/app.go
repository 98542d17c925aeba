// Package app wires the chat server together and runs it until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-tcp/internal/bridge"
	"github.com/vovakirdan/wirechat-tcp/internal/config"
	"github.com/vovakirdan/wirechat-tcp/internal/core"
	wlog "github.com/vovakirdan/wirechat-tcp/internal/log"
	"github.com/vovakirdan/wirechat-tcp/internal/metrics"
	"github.com/vovakirdan/wirechat-tcp/internal/server"
	"github.com/vovakirdan/wirechat-tcp/internal/store"
	"github.com/vovakirdan/wirechat-tcp/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-tcp/internal/transport/http"
)

const pruneInterval = time.Hour

// App wires together core and transport layers.
type App struct {
	cfg    config.Config
	hub    *core.Hub
	chat   *server.Server
	http   *stdhttp.Server
	bridge *bridge.RedisBridge
	store  store.MessageStore
	log    *zerolog.Logger
}

// New constructs the application and binds the chat listener.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize database store
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hubOpts := core.Options{
		Store:   st,
		Metrics: m,
		Logger:  *logger,
	}

	var relay *bridge.RedisBridge
	if cfg.Redis.Addr != "" {
		relay = bridge.NewRedisBridge(bridge.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, *logger)
		hubOpts.Relay = relay
	}

	hub := core.NewHub(hubOpts)

	chat := server.New(hub, server.Options{
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		MaxFrameBytes:     cfg.MaxFrameBytes,
		MaxPendingFrames:  cfg.MaxPendingFrames,
		MessagesPerMinute: cfg.MessagesPerMinute,
		Metrics:           m,
		Logger:            *logger,
	})
	if err := chat.Listen(cfg.ListenAddr()); err != nil {
		st.Close()
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		hub:    hub,
		chat:   chat,
		bridge: relay,
		store:  st,
		log:    logger,
	}

	if cfg.HTTPAddr != "" {
		httpLog := wlog.Component(logger, "http")
		a.http = transporthttp.NewServer(transporthttp.Deps{
			Conns:    chat,
			Users:    hub,
			History:  st,
			Gatherer: reg,
		}, cfg, &httpLog)
	}

	return a, nil
}

// Run serves until ctx is cancelled or a listener fails, then shuts down
// sessions before the hub so every leave is announced.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	go a.hub.Run(hubCtx)
	defer func() {
		stopHub()
		<-a.hub.Done()
		a.cleanup()
	}()

	if a.bridge != nil {
		if err := a.bridge.Start(a.hub); err != nil {
			_ = a.chat.Close()
			return fmt.Errorf("start redis bridge: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() {
		err := a.chat.Serve(runCtx)
		if errors.Is(err, server.ErrServerClosed) {
			err = nil
		}
		errs <- err
	}()

	if a.http != nil {
		go func() {
			a.log.Info().Str("addr", a.http.Addr).Msg("http server listening")
			if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				errs <- fmt.Errorf("http: %w", err)
				return
			}
			errs <- nil
		}()
	}

	if a.cfg.HistoryRetention > 0 {
		go a.pruneLoop(runCtx)
	}

	var runErr error
	select {
	case runErr = <-errs:
	case <-ctx.Done():
	}
	cancel()

	a.log.Info().Msg("shutting down")
	if err := a.chat.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close chat listener")
	}

	if a.http != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancelShutdown()
		if err := a.http.Shutdown(shutdownCtx); err != nil && runErr == nil {
			runErr = err
		}
	}

	return runErr
}

// Addr returns the bound chat listener address.
func (a *App) Addr() string {
	if addr := a.chat.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (a *App) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		a.prune(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *App) prune(ctx context.Context) {
	cutoff := time.Now().Add(-a.cfg.HistoryRetention)
	n, err := a.store.Prune(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Warn().Err(err).Msg("failed to prune history")
		}
		return
	}
	if n > 0 {
		a.log.Info().Int64("deleted", n).Time("before", cutoff).Msg("pruned history")
	}
}

// cleanup closes the bridge, the database and other resources.
func (a *App) cleanup() {
	if a.bridge != nil {
		if err := a.bridge.Stop(); err != nil {
			a.log.Warn().Err(err).Msg("failed to stop redis bridge")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
