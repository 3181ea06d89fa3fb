package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinpipe/internal/alerting"
	"coinpipe/internal/config"
	"coinpipe/internal/pipeline"
	"coinpipe/internal/provider"
	"coinpipe/internal/scheduler"
	"coinpipe/internal/signal"
	"coinpipe/internal/storage"
)

// Service orchestrates collection, validation, persistence, and alerting.
type Service struct {
	scheduler    *scheduler.Scheduler
	collector    provider.Collector
	pipeline     *pipeline.Pipeline
	store        storage.ObservationStore
	blockedStore storage.BlockedStore
	notifier     alerting.Notifier
	logger       zerolog.Logger

	symbols   []string
	riskLevel string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// New constructs the collection service.
func New(cfg *config.Config, sched *scheduler.Scheduler, collector provider.Collector, pipe *pipeline.Pipeline, store storage.ObservationStore, blockedStore storage.BlockedStore, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:    sched,
		collector:    collector,
		pipeline:     pipe,
		store:        store,
		blockedStore: blockedStore,
		notifier:     notifier,
		logger:       logger.With().Str("component", "service").Logger(),
		symbols:      cfg.Pipeline.Symbols,
		riskLevel:    cfg.Pipeline.RiskLevel,
		alertsOn:     cfg.Alerting.Enabled,
		locker:       locker,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run begins the aligned collection loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket runs one collection cycle for a single time bucket.
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, bucket)
}

func (s *Service) executeBucket(ctx context.Context, bucket time.Time) error {
	raw, err := s.collector.Collect(ctx, s.symbols)
	if err != nil {
		return fmt.Errorf("collect %s: %w", s.collector.Name(), err)
	}

	result := s.pipeline.ProcessTradingRows(ctx, raw)

	s.persistCleaned(ctx, result.Cleaned)
	s.persistBlocked(ctx, bucket, result)

	signals := signal.Generate(result, s.riskLevel)
	for _, sig := range signals {
		event := s.logger.Info().
			Str("coin", sig.Coin).
			Str("risk_level", sig.RiskLevel).
			Bool("blocked", sig.Blocked)
		if !sig.Blocked {
			event = event.
				Float64("current_price", sig.CurrentPrice).
				Float64("stop_loss", sig.StopLoss).
				Float64("take_profit", sig.TakeProfit)
		}
		event.Msg("trade signal")
	}

	s.logger.Info().Time("bucket", bucket).
		Int("raw_rows", len(raw)).
		Int("cleaned_rows", len(result.Cleaned)).
		Int("blocked_symbols", len(result.Blocked)).
		Msg("cycle complete")

	if s.alertsOn && s.notifier != nil && len(result.Blocked) > 0 {
		note := alerting.Notification{
			Bucket:  bucket,
			Blocked: pipeline.SortedSymbols(result.Blocked),
			Reasons: reasonStrings(result.Reasons, result.Blocked),
		}
		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("failed to dispatch alert")
		}
	}

	return nil
}

func (s *Service) persistCleaned(ctx context.Context, cleaned []pipeline.Row) {
	if s.store == nil {
		return
	}
	for _, row := range cleaned {
		if row.Price == nil {
			continue
		}
		obs := storage.Observation{
			Symbol:   row.Symbol,
			Price:    decimal.NewFromFloat(*row.Price),
			Currency: row.Currency,
			TS:       row.Timestamp,
			Source:   row.Source,
		}
		if row.Volume != nil {
			volume := decimal.NewFromFloat(*row.Volume)
			obs.Volume = &volume
		}
		if row.Change24h != nil {
			change := decimal.NewFromFloat(*row.Change24h)
			obs.Change24h = &change
		}
		if err := s.store.UpsertObservation(ctx, obs); err != nil {
			s.logger.Error().Err(err).Str("symbol", row.Symbol).Msg("failed to upsert observation")
		}
	}
}

func (s *Service) persistBlocked(ctx context.Context, bucket time.Time, result pipeline.Result) {
	if s.blockedStore == nil {
		return
	}
	for _, symbol := range pipeline.SortedSymbols(result.Blocked) {
		rec := storage.BlockedRecord{
			Bucket: bucket,
			Symbol: symbol,
			Reason: blockedReason(result.Reasons, symbol),
		}
		if _, err := s.blockedStore.InsertBlocked(ctx, rec); err != nil {
			s.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist blocked record")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// blockedReason prefers the symbol-level stuck-feed reason; symbols blocked
// for other causes get the generic marker.
func blockedReason(reasons map[string]pipeline.Reason, symbol string) string {
	if reason, ok := reasons[symbol]; ok {
		return string(reason)
	}
	return signal.BlockedReason
}

func reasonStrings(reasons map[string]pipeline.Reason, blocked map[string]struct{}) map[string]string {
	out := make(map[string]string, len(blocked))
	for symbol := range blocked {
		out[symbol] = blockedReason(reasons, symbol)
	}
	return out
}
