package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coinpipe/internal/pipeline"
)

const coinGeckoSimplePricePath = "/simple/price"

// coinGeckoIDs maps tickers to CoinGecko coin ids for the symbols the
// collector tracks.
var coinGeckoIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"XRP":  "ripple",
	"DOGE": "dogecoin",
	"ADA":  "cardano",
	"BNB":  "binancecoin",
	"DOT":  "polkadot",
	"LTC":  "litecoin",
	"LINK": "chainlink",
}

// CoinGeckoOptions parameterise the CoinGecko client.
type CoinGeckoOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// CoinGecko queries the CoinGecko simple-price API.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a CoinGecko client.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies this provider in fallback ordering and source tags.
func (c *CoinGecko) Name() string { return "coingecko" }

// SimplePrices fetches USD price, 24h volume, and 24h change for the given
// symbols in one request. Symbols without a known CoinGecko id are skipped.
func (c *CoinGecko) SimplePrices(ctx context.Context, symbols []string) (map[string]pipeline.PriceRecord, error) {
	ids := make([]string, 0, len(symbols))
	idToSymbol := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		canonical := pipeline.CanonicalSymbol(symbol)
		id, ok := coinGeckoIDs[canonical]
		if !ok {
			c.logger.Debug().Str("symbol", canonical).Msg("no coingecko id for symbol")
			continue
		}
		ids = append(ids, id)
		idToSymbol[id] = canonical
	}
	if len(ids) == 0 {
		return map[string]pipeline.PriceRecord{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_vol", "true")
	params.Set("include_24hr_change", "true")

	endpoint := c.baseURL + coinGeckoSimplePricePath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body map[string]pipeline.PriceRecord
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode coingecko response: %w", err)
	}

	records := make(map[string]pipeline.PriceRecord, len(body))
	for id, record := range body {
		symbol, ok := idToSymbol[id]
		if !ok {
			continue
		}
		records[symbol] = record
	}
	return records, nil
}

// Collect fetches raw observation rows for the given symbols, tagged with
// this provider as source.
func (c *CoinGecko) Collect(ctx context.Context, symbols []string) ([]pipeline.RawRow, error) {
	records, err := c.SimplePrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("coingecko collect: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rows := make([]pipeline.RawRow, 0, len(records))
	for symbol, record := range records {
		rows = append(rows, pipeline.RawRow{
			Symbol:    symbol,
			Price:     record["usd"],
			Volume:    record["usd_24h_vol"],
			Change24h: record["usd_24h_change"],
			Currency:  "USD",
			Timestamp: now,
			Source:    c.Name(),
		})
	}
	return rows, nil
}

var (
	_ Collector                  = (*CoinGecko)(nil)
	_ pipeline.SimplePriceLookup = (*CoinGecko)(nil)
)
