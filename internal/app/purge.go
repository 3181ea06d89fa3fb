package app

import (
	"context"
	"errors"
	"time"
)

// Purge deletes blocked-symbol audit records older than the retention
// window.
func (a *App) Purge(ctx context.Context, opts PurgeOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be a positive duration")
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)

	if opts.DryRun {
		a.Logger.Info().Time("cutoff", cutoff).Msg("dry-run: would delete blocked records before cutoff")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot purge")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if err := store.DeleteBlockedBefore(ctx, cutoff); err != nil {
		return err
	}

	a.Logger.Info().Time("cutoff", cutoff).Msg("purged blocked records")
	return nil
}
