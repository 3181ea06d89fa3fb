package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"coinpipe/internal/pipeline"
	"coinpipe/internal/provider"
	"coinpipe/internal/service"
	"coinpipe/internal/storage"
)

// Collect runs a single collection pass outside the scheduler. When
// InputPath is set the raw rows are read from a JSON file instead of the
// primary provider, which makes the validation path exercisable without
// network access.
func (a *App) Collect(ctx context.Context, opts CollectOptions) error {
	primary, sources, err := a.newProviders()
	if err != nil {
		return err
	}
	if opts.InputPath != "" {
		rows, err := readRawRows(opts.InputPath)
		if err != nil {
			return err
		}
		primary = &fileCollector{rows: rows}
	}

	pipe := a.newPipeline(sources)
	notifier := a.newNotifier()

	var obsStore storage.ObservationStore
	var blockedStore storage.BlockedStore
	if opts.Persist {
		s, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if s == nil {
			return fmt.Errorf("database not configured; cannot persist")
		}
		defer closeStore()
		obsStore = s
		blockedStore = s
	}

	svc := service.New(a.Config, nil, primary, pipe, obsStore, blockedStore, notifier, a.Logger)

	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	return svc.ProcessBucket(ctx, bucket)
}

func readRawRows(path string) ([]pipeline.RawRow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read raw rows: %w", err)
	}
	var rows []pipeline.RawRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse raw rows: %w", err)
	}
	return rows, nil
}

type fileCollector struct {
	rows []pipeline.RawRow
}

func (f *fileCollector) Name() string { return "file" }

func (f *fileCollector) Collect(ctx context.Context, symbols []string) ([]pipeline.RawRow, error) {
	return f.rows, nil
}

var _ provider.Collector = (*fileCollector)(nil)
