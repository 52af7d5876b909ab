// Package app wires configuration, storage, providers and services into
// one runnable application core.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loongquant/loong/internal/cache"
	"github.com/loongquant/loong/internal/clients/llm"
	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/consistency"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/metrics"
	"github.com/loongquant/loong/internal/providers"
	"github.com/loongquant/loong/internal/providers/eastmoney"
	"github.com/loongquant/loong/internal/providers/health"
	"github.com/loongquant/loong/internal/providers/sina"
	"github.com/loongquant/loong/internal/providers/tushare"
	"github.com/loongquant/loong/internal/providers/yahoo"
	"github.com/loongquant/loong/internal/scheduler"
	"github.com/loongquant/loong/internal/services/analysis"
	"github.com/loongquant/loong/internal/services/notify"
	"github.com/loongquant/loong/internal/services/syncsvc"
	"github.com/loongquant/loong/internal/storage/surrealdb"
)

// App holds all initialized services and clients. It is the shared core
// behind cmd/loong-server.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Storage interfaces.StorageManager
	Router  *providers.Router
	Health  *health.Monitor
	Cache   *cache.Manager
	Metrics *metrics.Registry
	Checker *consistency.Checker
	LLM     interfaces.LLMClient

	Hub       *notify.Hub
	Notify    *notify.Service
	Sync      interfaces.SyncService
	Analysis  interfaces.AnalysisService
	Workers   *analysis.Pool
	Scheduler *scheduler.Scheduler

	StartupTime time.Time

	workerCancel context.CancelFunc
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, providers, caches and services.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	binDir := getBinaryDir()

	// Config resolution: explicit path, LOONG_CONFIG, binary dir, dev fallback.
	if configPath == "" {
		configPath = os.Getenv("LOONG_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "loong.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/loong.toml"
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)

	storageManager, err := surrealdb.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx := context.Background()

	// Tasks orphaned by a crash go back to pending before workers start.
	if err := storageManager.TaskStore().ResetProcessing(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to reset orphaned tasks")
	}

	// The router and the health monitor reference each other; wire the
	// router first and attach the monitor afterwards.
	router := providers.NewRouter(nil, logger)
	monitor := health.NewMonitor(config.Health, router, storageManager, logger)
	router.SetHealth(monitor)

	registerProviders(router, config, logger)

	var redisTier *cache.RedisTier
	if config.Cache.RedisAddr != "" {
		redisTier, err = cache.NewRedisTier(config.Cache, logger)
		if err != nil {
			logger.Warn().Err(err).Str("addr", config.Cache.RedisAddr).Msg("Redis unavailable, L2 cache disabled")
			redisTier = nil
		}
	}
	cacheManager := cache.NewManager(config.Cache, redisTier, logger)

	registry := metrics.NewRegistry()
	checker := consistency.NewChecker(config.Consistency, logger)

	var llmClient interfaces.LLMClient
	if key, err := common.ResolveAPIKey("llm_api_key", config.LLM.APIKey); err != nil {
		logger.Warn().Msg("LLM API key not configured - analysis workers disabled")
	} else {
		client, err := llm.NewClient(ctx, key, llm.WithLogger(logger))
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize LLM client")
		} else {
			llmClient = client
		}
	}

	hub := notify.NewHub(logger)
	notifyService := notify.NewService(storageManager.NotificationStore(), hub, logger)

	syncService := syncsvc.NewService(storageManager, router, monitor, checker, cacheManager, registry, notifyService, config, logger)
	analysisService := analysis.NewService(storageManager.TaskStore(), notifyService, config, logger)

	var workers *analysis.Pool
	if llmClient != nil {
		workers = analysis.NewPool(storageManager.TaskStore(), llmClient, notifyService, registry, config, logger)
	}

	sched := scheduler.New(syncService, logger)
	if err := sched.Register(config.SyncJobs); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to register sync jobs: %w", err)
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		Router:      router,
		Health:      monitor,
		Cache:       cacheManager,
		Metrics:     registry,
		Checker:     checker,
		LLM:         llmClient,
		Hub:         hub,
		Notify:      notifyService,
		Sync:        syncService,
		Analysis:    analysisService,
		Workers:     workers,
		Scheduler:   sched,
		StartupTime: startupStart,
	}

	logger.Info().Dur("startup", time.Since(startupStart)).Msg("App initialized")
	return a, nil
}

// registerProviders builds an adapter per enabled config entry. Unknown
// names are reported and skipped so a typo cannot silently drop a source.
func registerProviders(router *providers.Router, config *common.Config, logger *common.Logger) {
	for _, pc := range config.Providers {
		if !pc.Enabled {
			continue
		}

		var p interfaces.Provider
		switch pc.Name {
		case tushare.Name:
			token, err := common.ResolveAPIKey("tushare_token", pc.Token)
			if err != nil {
				logger.Warn().Msg("Tushare token not configured - provider skipped")
				continue
			}
			opts := []tushare.ClientOption{
				tushare.WithLogger(logger),
				tushare.WithRateLimit(pc.RateLimit),
				tushare.WithTimeout(pc.GetTimeout()),
			}
			if pc.BaseURL != "" {
				opts = append(opts, tushare.WithBaseURL(pc.BaseURL))
			}
			p = tushare.NewClient(token, opts...)

		case eastmoney.Name:
			opts := []eastmoney.ClientOption{
				eastmoney.WithLogger(logger),
				eastmoney.WithRateLimit(pc.RateLimit),
				eastmoney.WithTimeout(pc.GetTimeout()),
			}
			if pc.BaseURL != "" {
				opts = append(opts, eastmoney.WithBaseURL(pc.BaseURL))
			}
			p = eastmoney.NewClient(opts...)

		case sina.Name:
			opts := []sina.ClientOption{
				sina.WithLogger(logger),
				sina.WithRateLimit(pc.RateLimit),
				sina.WithTimeout(pc.GetTimeout()),
			}
			if pc.BaseURL != "" {
				opts = append(opts, sina.WithBaseURL(pc.BaseURL))
			}
			p = sina.NewClient(opts...)

		case yahoo.Name:
			opts := []yahoo.ClientOption{
				yahoo.WithLogger(logger),
				yahoo.WithRateLimit(pc.RateLimit),
				yahoo.WithTimeout(pc.GetTimeout()),
			}
			if pc.BaseURL != "" {
				opts = append(opts, yahoo.WithBaseURL(pc.BaseURL))
			}
			p = yahoo.NewClient(opts...)

		default:
			logger.Error().Str("provider", pc.Name).Msg("Unknown provider in config, skipped")
			continue
		}

		router.Register(p, pc.Enabled, pc.Priority)
		logger.Info().Str("provider", pc.Name).Int("priority", pc.Priority).Msg("Provider registered")
	}
}

// Start launches the background machinery: the notification hub, the
// health monitor, the analysis workers and the sync scheduler.
func (a *App) Start() {
	go a.Hub.Run()
	a.Health.Start()

	if a.Workers != nil {
		workerCtx, cancel := context.WithCancel(context.Background())
		a.workerCancel = cancel
		a.Workers.Start(workerCtx)
	}

	a.Scheduler.Start()
}

// Close releases all resources. Shutdown order: scheduler, workers,
// health monitor, hub, then storage.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Workers != nil {
		if a.workerCancel != nil {
			a.workerCancel()
		}
		a.Workers.Stop()
	}
	if a.Health != nil {
		a.Health.Stop()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}
