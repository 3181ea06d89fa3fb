package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"coinpipe/internal/alerting"
	"coinpipe/internal/config"
	"coinpipe/internal/pipeline"
	"coinpipe/internal/provider"
	"coinpipe/internal/scheduler"
	"coinpipe/internal/service"
	"coinpipe/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newProviders builds every configured market-data source. The first return
// is the primary collector for scheduled pulls; the second lists all sources
// available to the fallback resolver.
func (a *App) newProviders() (provider.Collector, []pipeline.Provider, error) {
	gecko := provider.NewCoinGecko(provider.CoinGeckoOptions{
		BaseURL:   a.Config.Providers.CoinGecko.BaseURL,
		APIKey:    a.Config.Providers.CoinGecko.APIKey,
		Timeout:   a.Config.Providers.CoinGecko.RequestTimeout,
		UserAgent: a.Config.Providers.CoinGecko.UserAgent,
	}, a.Logger)

	cmc := provider.NewCoinMarketCap(provider.CoinMarketCapOptions{
		BaseURL:   a.Config.Providers.CoinMarketCap.BaseURL,
		Limit:     a.Config.Providers.CoinMarketCap.Limit,
		Timeout:   a.Config.Providers.CoinMarketCap.RequestTimeout,
		UserAgent: a.Config.Providers.CoinMarketCap.UserAgent,
	}, a.Logger)

	sources := []pipeline.Provider{gecko, cmc}

	if a.Config.Providers.Chainlink.RPCURL != "" && len(a.Config.Providers.Chainlink.Feeds) > 0 {
		chain := provider.NewChainlink(provider.ChainlinkOptions{
			RPCURL:  a.Config.Providers.Chainlink.RPCURL,
			Feeds:   a.Config.Providers.Chainlink.Feeds,
			Timeout: a.Config.Providers.Chainlink.RequestTimeout,
		}, a.Logger)
		sources = append(sources, chain)
	}

	var primary provider.Collector
	switch a.Config.Providers.Primary {
	case "coingecko", "":
		primary = gecko
	case "coinmarketcap":
		primary = cmc
	default:
		return nil, nil, fmt.Errorf("unknown primary provider %q", a.Config.Providers.Primary)
	}

	return primary, sources, nil
}

// newPipeline assembles the validator and fallback resolver from config.
func (a *App) newPipeline(sources []pipeline.Provider) *pipeline.Pipeline {
	overrides := make(map[string]pipeline.Range, len(a.Config.Pipeline.Bounds))
	for symbol, r := range a.Config.Pipeline.Bounds {
		overrides[symbol] = pipeline.Range{Low: r.Low, High: r.High}
	}

	validator := pipeline.NewValidator(pipeline.NewBounds(overrides), a.Logger)
	resolver := pipeline.NewResolver(sources, pipeline.ResolverOptions{
		CallTimeout: a.Config.Pipeline.FallbackTimeout,
		Concurrency: a.Config.Pipeline.FallbackConcurrency,
	}, a.Logger)

	return pipeline.New(validator, resolver, a.Config.Pipeline.FallbackPrefer, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running collection service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToBucket: a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	primary, sources, err := a.newProviders()
	if err != nil {
		return err
	}
	pipe := a.newPipeline(sources)
	notifier := a.newNotifier()

	var obsStore storage.ObservationStore
	var blockedStore storage.BlockedStore
	if store != nil {
		obsStore = store
		blockedStore = store
	}

	svc := service.New(a.Config, sched, primary, pipe, obsStore, blockedStore, notifier, a.Logger)

	a.Logger.Info().Msg("starting collection service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("collection service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical observations.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit   int
	Blocked bool
}

// CollectOptions configure a one-off collection pass.
type CollectOptions struct {
	InputPath string
	Persist   bool
}

// PurgeOptions configure blocked-record retention cleanup.
type PurgeOptions struct {
	OlderThan time.Duration
	DryRun    bool
}
