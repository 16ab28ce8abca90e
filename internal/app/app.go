// Package app wires configuration, storage, providers and services into one
// App shared by the CLI and the server.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/yieldwatch/internal/common"
	"github.com/bobmcallan/yieldwatch/internal/interfaces"
	"github.com/bobmcallan/yieldwatch/internal/models"
	"github.com/bobmcallan/yieldwatch/internal/services/holdings"
	"github.com/bobmcallan/yieldwatch/internal/services/market"
	"github.com/bobmcallan/yieldwatch/internal/services/router"
	"github.com/bobmcallan/yieldwatch/internal/services/safety"
	"github.com/bobmcallan/yieldwatch/internal/services/usage"
	"github.com/bobmcallan/yieldwatch/internal/storage"
)

// App holds all initialized services and storage.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     interfaces.StorageManager
	Policy      *common.FreshnessPolicy
	Usage       *usage.Tracker
	Router      *router.Router
	Holdings    *holdings.Service
	Market      *market.Service
	Safety      *safety.Service
	StartupTime time.Time

	scheduler       *Scheduler
	warmCacheCancel context.CancelFunc
}

// Options overrides collaborators that tests need to control.
type Options struct {
	Clock   common.Clock
	Factory router.ClientFactory
	Logger  *common.Logger
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// resolveConfigPath checks the provided path, YIELDWATCH_CONFIG, the binary
// directory, then config/yieldwatch.toml.
func resolveConfigPath(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("YIELDWATCH_CONFIG"); env != "" {
		return env
	}
	candidate := filepath.Join(getBinaryDir(), "yieldwatch.toml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return "config/yieldwatch.toml"
}

// NewApp loads configuration and initializes all services. Later config
// files override earlier ones; with none given the default resolution
// logic picks one.
func NewApp(configPaths ...string) (*App, error) {
	if len(configPaths) == 0 {
		configPaths = []string{resolveConfigPath("")}
	}
	config, err := common.LoadConfig(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return New(context.Background(), config, Options{})
}

// New initializes storage and services from an already loaded config.
func New(ctx context.Context, config *common.Config, opts Options) (*App, error) {
	startupStart := time.Now()

	logger := opts.Logger
	if logger == nil {
		logger = common.NewLoggerFromConfig(config.Logging)
	}
	clock := opts.Clock
	if clock == nil {
		clock = common.SystemClock
	}

	storageManager, err := storage.NewStorageManager(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := seedProviders(ctx, storageManager.ProviderStore(), config, logger); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to seed providers: %w", err)
	}

	factory := opts.Factory
	if factory == nil {
		factory = router.NewHTTPClientFactory(config.Secrets.MasterKey, logger)
	}

	policy := common.NewFreshnessPolicy(config.Market, config.Sync, clock)
	tracker := usage.NewTracker(storageManager.ProviderStore(), clock, logger)
	providerRouter := router.NewRouter(storageManager.ProviderStore(), tracker, factory, logger)
	holdingsService := holdings.NewService(storageManager.TransactionStore(), logger)
	marketService := market.NewService(storageManager, holdingsService, providerRouter, tracker, policy, logger,
		market.WithRequestDelay(config.Sync.GetRequestDelay()),
		market.WithWorkers(config.Sync.GetWorkers()),
		market.WithDefaultDays(config.Sync.HistoricalDays, config.Sync.DividendDays),
		market.WithLookbackYears(config.Safety.GetLookbackYears()),
	)
	safetyService := safety.NewService(storageManager.SafetyStore(), storageManager.DividendStore(), marketService, config.Safety, clock, logger)

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		Policy:      policy,
		Usage:       tracker,
		Router:      providerRouter,
		Holdings:    holdingsService,
		Market:      marketService,
		Safety:      safetyService,
		StartupTime: startupStart,
	}

	logger.Info().Str("startup", time.Since(startupStart).String()).Msg("App initialized")
	return a, nil
}

// Close releases all resources held by the App.
// Shutdown order: stop scheduler, cancel warm cache, close storage.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
		a.scheduler = nil
	}
	if a.warmCacheCancel != nil {
		a.warmCacheCancel()
		a.warmCacheCancel = nil
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
		a.Storage = nil
	}
}

// StartScheduler registers and starts the cron jobs named in config.
// It is a no-op when the scheduler is disabled.
func (a *App) StartScheduler() error {
	if !a.Config.Scheduler.Enabled {
		a.Logger.Info().Msg("Scheduler disabled")
		return nil
	}
	s, err := NewScheduler(a, a.Config.Scheduler)
	if err != nil {
		return err
	}
	s.Start()
	a.scheduler = s
	return nil
}

// RefreshSafety recomputes safety scores for symbols, or for every held
// symbol when none are given.
func (a *App) RefreshSafety(ctx context.Context, symbols []string) (map[string]models.SafetyResult, error) {
	if len(symbols) == 0 {
		held, err := a.Holdings.ActiveSymbols(ctx)
		if err != nil {
			return nil, err
		}
		symbols = held
	}
	return a.Safety.BulkUpdate(ctx, symbols)
}

// seedProviders writes configured credentials and routes to the provider
// store. Usage counters of existing credentials are preserved, as is a key
// stored out of band when the config has none.
func seedProviders(ctx context.Context, store interfaces.ProviderStore, config *common.Config, logger *common.Logger) error {
	for name, settings := range config.Providers.ByName() {
		apply := func(cred *models.ProviderCredential) {
			cred.Active = settings.Enabled
			if settings.APIKey != "" {
				cred.APIKey = settings.APIKey
			}
			cred.BaseURL = settings.BaseURL
			cred.Timeout = settings.Timeout
			cred.RequestsPerMinute = settings.RequestsPerMinute
			cred.Timezone = settings.Timezone
			cred.DailyQuota = nil
			if settings.RequestsPerDay > 0 {
				quota := settings.RequestsPerDay
				cred.DailyQuota = &quota
			}
		}

		_, err := store.UpdateCredential(ctx, name, func(cred *models.ProviderCredential) error {
			apply(cred)
			return nil
		})
		if errors.Is(err, interfaces.ErrNotFound) {
			cred := &models.ProviderCredential{Provider: name}
			apply(cred)
			err = store.SaveCredential(ctx, cred)
		}
		if err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		if settings.Enabled && settings.APIKey == "" {
			logger.Warn().Str("provider", name).Msg("Provider enabled without an API key in config")
		}
	}

	for key, route := range config.Routes.ByDataType() {
		dataType := models.DataType(key)
		for _, provider := range []string{route.Primary, route.Fallback} {
			if provider != "" && !router.Supports(provider, dataType) {
				logger.Warn().Str("data_type", key).Str("provider", provider).Msg("Route names a provider that does not serve this data type")
			}
		}
		err := store.SaveRoute(ctx, &models.ProviderConfig{
			DataType:         dataType,
			PrimaryProvider:  route.Primary,
			FallbackProvider: route.Fallback,
			Active:           route.Active,
		})
		if err != nil {
			return fmt.Errorf("route %s: %w", key, err)
		}
	}
	return nil
}
