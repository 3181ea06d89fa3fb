package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"coinpipe/internal/numeric"
)

// PriceRecord is a loosely keyed per-symbol record as returned by a
// secondary provider. Providers disagree on field names, so the resolver
// probes the known variants instead of forcing a schema on each client.
type PriceRecord map[string]any

var (
	priceKeys  = []string{"price", "current_price", "usd"}
	volumeKeys = []string{"volume_24h", "usd_24h_vol", "total_volume"}
	changeKeys = []string{"change_24h", "price_change_percentage_24h", "usd_24h_change"}
)

// Provider identifies a secondary data source. Concrete providers implement
// at least one of the two capability interfaces below.
type Provider interface {
	Name() string
}

// SimplePriceLookup is the preferred capability: a direct batch price query
// for a set of symbols.
type SimplePriceLookup interface {
	Provider
	SimplePrices(ctx context.Context, symbols []string) (map[string]PriceRecord, error)
}

// GenericScraper is the fallback capability: a full scrape returning every
// symbol the provider knows about.
type GenericScraper interface {
	Provider
	Scrape(ctx context.Context) (map[string]PriceRecord, error)
}

// ResolverOptions tune fallback resolution.
type ResolverOptions struct {
	// CallTimeout bounds each provider call so a hanging provider cannot
	// stall the rest of the batch.
	CallTimeout time.Duration
	// Concurrency limits parallel per-symbol lookups.
	Concurrency int
}

// Resolver queries secondary providers, in preference order, for symbols
// the validator rejected.
type Resolver struct {
	providers []Provider
	opts      ResolverOptions
	logger    zerolog.Logger
}

// NewResolver constructs a resolver over an ordered provider list. The
// list order is the secondary preference order; FallbackPrices moves the
// preferred provider to the front per call.
func NewResolver(providers []Provider, opts ResolverOptions, logger zerolog.Logger) *Resolver {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Resolver{
		providers: providers,
		opts:      opts,
		logger:    logger.With().Str("component", "fallback_resolver").Logger(),
	}
}

// FallbackPrices resolves replacement observations for the given symbols.
// Per symbol, providers are tried in preference order and the first one
// returning a parseable positive price wins. Symbols no provider could
// serve are silently absent from the output; the caller treats absence as
// still-blocked. Provider failures are logged and skipped, never returned.
func (r *Resolver) FallbackPrices(ctx context.Context, symbols map[string]struct{}, prefer string) []Row {
	if len(symbols) == 0 || len(r.providers) == 0 {
		return nil
	}

	ordered := r.orderProviders(prefer)

	canonical := make(map[string]struct{}, len(symbols))
	for s := range symbols {
		if c := CanonicalSymbol(s); c != "" {
			canonical[c] = struct{}{}
		}
	}
	wanted := SortedSymbols(canonical)
	scrapes := newScrapeCache()

	rows := make([]Row, len(wanted))
	found := make([]bool, len(wanted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for i, symbol := range wanted {
		g.Go(func() error {
			if row, ok := r.resolveSymbol(gctx, ordered, scrapes, symbol); ok {
				rows[i] = row
				found[i] = true
			}
			return nil
		})
	}
	// Workers never return errors; Wait only closes the group.
	_ = g.Wait()

	out := make([]Row, 0, len(wanted))
	for i := range rows {
		if found[i] {
			out = append(out, rows[i])
		}
	}
	return out
}

// orderProviders places the preferred provider first, then the remaining
// providers in their registered order.
func (r *Resolver) orderProviders(prefer string) []Provider {
	ordered := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Name() == prefer {
			ordered = append(ordered, p)
		}
	}
	for _, p := range r.providers {
		if p.Name() != prefer {
			ordered = append(ordered, p)
		}
	}
	return ordered
}

func (r *Resolver) resolveSymbol(ctx context.Context, providers []Provider, scrapes *scrapeCache, symbol string) (Row, bool) {
	for _, p := range providers {
		record, ok := r.lookup(ctx, p, scrapes, symbol)
		if !ok {
			continue
		}

		price, ok := probeKeys(record, priceKeys)
		if !ok || price <= 0 {
			continue
		}

		row := Row{
			Symbol:    symbol,
			Price:     &price,
			Currency:  "USD",
			Timestamp: time.Now().UTC(),
			Source:    p.Name() + "_fallback",
		}
		if volume, ok := probeKeys(record, volumeKeys); ok {
			row.Volume = &volume
		}
		if change, ok := probeKeys(record, changeKeys); ok {
			row.Change24h = &change
		}

		r.logger.Info().
			Str("symbol", symbol).
			Str("provider", p.Name()).
			Float64("price", price).
			Msg("fallback price resolved")
		return row, true
	}
	return Row{}, false
}

// lookup dispatches on provider capability, preferring the direct price
// query over a generic scrape.
func (r *Resolver) lookup(ctx context.Context, p Provider, scrapes *scrapeCache, symbol string) (PriceRecord, bool) {
	switch impl := p.(type) {
	case SimplePriceLookup:
		callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
		records, err := impl.SimplePrices(callCtx, []string{symbol})
		if err != nil {
			r.logger.Warn().Err(err).Str("provider", p.Name()).Str("symbol", symbol).Msg("simple price lookup failed")
			return nil, false
		}
		// Providers disagree on key casing the same way they disagree on
		// field names, so match on canonical symbols.
		for key, record := range records {
			if CanonicalSymbol(key) == symbol {
				return record, true
			}
		}
		return nil, false
	case GenericScraper:
		records, err := scrapes.get(ctx, impl, r.opts.CallTimeout)
		if err != nil {
			r.logger.Warn().Err(err).Str("provider", p.Name()).Str("symbol", symbol).Msg("scrape failed")
			return nil, false
		}
		record, ok := records[symbol]
		return record, ok
	default:
		r.logger.Warn().Str("provider", p.Name()).Msg("provider exposes no usable capability")
		return nil, false
	}
}

func probeKeys(record PriceRecord, keys []string) (float64, bool) {
	for _, key := range keys {
		if raw, ok := record[key]; ok {
			if f, ok := numeric.Parse(raw); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// scrapeCache runs each generic scrape at most once per resolution pass,
// however many symbols need it. Concurrent callers share the in-flight
// request; later callers get the memoized result.
type scrapeCache struct {
	group   singleflight.Group
	mu      sync.Mutex
	results map[string]map[string]PriceRecord
}

func newScrapeCache() *scrapeCache {
	return &scrapeCache{results: make(map[string]map[string]PriceRecord)}
}

func (c *scrapeCache) get(ctx context.Context, scraper GenericScraper, timeout time.Duration) (map[string]PriceRecord, error) {
	name := scraper.Name()

	c.mu.Lock()
	if cached, ok := c.results[name]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(name, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		records, err := scraper.Scrape(callCtx)
		if err != nil {
			return nil, err
		}
		canonical := make(map[string]PriceRecord, len(records))
		for symbol, record := range records {
			canonical[CanonicalSymbol(symbol)] = record
		}
		c.mu.Lock()
		c.results[name] = canonical
		c.mu.Unlock()
		return canonical, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]PriceRecord), nil
}
