// app.go
package main

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"checkpointd/internal/checkpoint"
	"checkpointd/internal/config"
	"checkpointd/internal/eventhub"
	"checkpointd/internal/store"
)

// App holds the checkpoint registry and everything the command surface needs
type App struct {
	mu     sync.RWMutex
	config *config.Config
	log    *zap.Logger

	metricsRegistry *prometheus.Registry
	metrics         *checkpoint.Metrics
	registry        *checkpoint.Registry
	eventHub        *eventhub.EventHub
}

// NewApp creates the application. Managers are built in Startup.
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		config:   cfg,
		log:      logger,
		eventHub: eventhub.New(),
	}
}

// Startup builds the metrics registry and the session registry
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.metricsRegistry = prometheus.NewRegistry()
	a.metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = checkpoint.NewMetrics(a.metricsRegistry)

	opener := store.LocalOpener(storeOptions(a.config.Store), a.log.Named("store"))

	a.registry = checkpoint.NewRegistry(opener, checkpoint.Options{
		Cache:     a.config.Cache,
		Index:     a.config.Index,
		Metrics:   a.metrics,
		Logger:    a.log,
		OnRefresh: a.eventHub.EmitCheckpointRefreshed,
	})

	a.log.Info("checkpointd started",
		zap.String("staleness", a.config.Cache.Staleness),
		zap.String("duplicate_policy", a.config.Index.DuplicatePolicy))
}

// Shutdown closes every session's store
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	registry := a.registry
	a.registry = nil
	a.mu.Unlock()

	if registry != nil {
		if err := registry.Close(); err != nil {
			a.log.Warn("failed to close checkpoint stores", zap.Error(err))
		}
	}
	a.log.Info("checkpointd shutdown complete")
}

// SetEventHubBroadcaster 设置 EventHub 的广播器（用于 WebSocket 模式）
func (a *App) SetEventHubBroadcaster(broadcaster eventhub.Broadcaster) {
	a.eventHub.SetBroadcaster(broadcaster)
}

// Gatherer exposes the application's metrics
func (a *App) Gatherer() prometheus.Gatherer {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metricsRegistry
}

func (a *App) sessions() (*checkpoint.Registry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.registry == nil {
		return nil, errNotStarted
	}
	return a.registry, nil
}

var errNotStarted = errors.New("app not started")

// methods the websocket router must not expose
var internalMethods = []string{"SetEventHubBroadcaster", "Gatherer"}

func storeOptions(cfg config.StoreConfig) store.Options {
	return store.Options{
		DirName:          cfg.DirName,
		CompressionLevel: cfg.CompressionLevel,
		Compression: store.CompressionPolicy{
			MinSize:        cfg.CompressionMinSize,
			SkipExtensions: cfg.SkipCompressionExtensions,
		},
		IgnorePatterns: cfg.IgnorePatterns,
		GCGrace:        cfg.GCGrace,
	}
}

// errorCode classifies command errors for RPC clients
func errorCode(err error) string {
	var storeErr *checkpoint.StoreError
	switch {
	case errors.Is(err, checkpoint.ErrSessionNotInitialized):
		return "session_not_initialized"
	case errors.Is(err, checkpoint.ErrDuplicateMessageIndex):
		return "duplicate_message_index"
	case errors.Is(err, checkpoint.ErrInvalidMessageIndex):
		return "invalid_message_index"
	case errors.Is(err, store.ErrCheckpointNotFound):
		return "checkpoint_not_found"
	case errors.As(err, &storeErr):
		return "store_error"
	default:
		return "internal"
	}
}
