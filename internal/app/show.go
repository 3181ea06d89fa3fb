package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"coinpipe/internal/storage"
)

// Show prints recent observations or blocked-symbol records.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show records")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Blocked {
		return showBlocked(ctx, store, opts.Limit)
	}
	return showObservations(ctx, store, opts.Limit)
}

func showObservations(ctx context.Context, store storage.ObservationStore, limit int) error {
	observations, err := store.ListRecentObservations(ctx, limit)
	if err != nil {
		return err
	}
	if len(observations) == 0 {
		fmt.Fprintln(os.Stdout, "no observations found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrice\tVolume\t24h%\tCurrency\tSource")

	for _, obs := range observations {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			obs.TS.UTC().Format(time.RFC3339),
			obs.Symbol,
			obs.Price.StringFixed(4),
			formatOptional(obs.Volume, 0),
			formatOptional(obs.Change24h, 2),
			obs.Currency,
			obs.Source,
		)
	}

	writer.Flush()
	return nil
}

func showBlocked(ctx context.Context, store storage.BlockedStore, limit int) error {
	records, err := store.ListRecentBlocked(ctx, limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no blocked symbols found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Bucket (UTC)\tSymbol\tReason\tRecorded")

	for _, rec := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\n",
			rec.Bucket.UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.Reason,
			rec.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func formatOptional(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}
