package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"coinpipe/internal/pipeline"
)

const coinMarketCapListingPath = "/data-api/v3/cryptocurrency/listing"

// CoinMarketCapOptions parameterise the CoinMarketCap client.
type CoinMarketCapOptions struct {
	BaseURL   string
	Limit     int
	Timeout   time.Duration
	UserAgent string
}

// CoinMarketCap pulls the public listing feed and exposes it as a generic
// scrape: one request returning every listed symbol.
type CoinMarketCap struct {
	opts    CoinMarketCapOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinMarketCap constructs a CoinMarketCap client.
func NewCoinMarketCap(opts CoinMarketCapOptions, logger zerolog.Logger) *CoinMarketCap {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coinmarketcap.com"
	}

	return &CoinMarketCap{
		opts:    opts,
		logger:  logger.With().Str("component", "coinmarketcap").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies this provider in fallback ordering and source tags.
func (c *CoinMarketCap) Name() string { return "coinmarketcap" }

type cmcListingResponse struct {
	Data struct {
		CryptoCurrencyList []struct {
			Symbol string `json:"symbol"`
			Name   string `json:"name"`
			Quotes []struct {
				Name             string  `json:"name"`
				Price            float64 `json:"price"`
				Volume24h        float64 `json:"volume24h"`
				PercentChange24h float64 `json:"percentChange24h"`
			} `json:"quotes"`
		} `json:"cryptoCurrencyList"`
	} `json:"data"`
}

// Scrape fetches the top listings and returns a per-symbol record map.
func (c *CoinMarketCap) Scrape(ctx context.Context) (map[string]pipeline.PriceRecord, error) {
	endpoint := c.baseURL + coinMarketCapListingPath +
		"?start=1&limit=" + strconv.Itoa(c.opts.Limit) + "&convert=USD"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
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
		return nil, fmt.Errorf("coinmarketcap api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var body cmcListingResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("decode coinmarketcap response: %w", err)
	}

	records := make(map[string]pipeline.PriceRecord, len(body.Data.CryptoCurrencyList))
	for _, entry := range body.Data.CryptoCurrencyList {
		symbol := pipeline.CanonicalSymbol(entry.Symbol)
		if symbol == "" {
			continue
		}
		for _, quote := range entry.Quotes {
			if quote.Name != "USD" {
				continue
			}
			records[symbol] = pipeline.PriceRecord{
				"price":      quote.Price,
				"volume_24h": quote.Volume24h,
				"change_24h": quote.PercentChange24h,
			}
			break
		}
	}

	c.logger.Debug().Int("symbols", len(records)).Msg("listing scrape complete")
	return records, nil
}

// Collect fetches raw observation rows for the given symbols from one
// listing scrape.
func (c *CoinMarketCap) Collect(ctx context.Context, symbols []string) ([]pipeline.RawRow, error) {
	records, err := c.Scrape(ctx)
	if err != nil {
		return nil, fmt.Errorf("coinmarketcap collect: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	rows := make([]pipeline.RawRow, 0, len(symbols))
	for _, symbol := range symbols {
		canonical := pipeline.CanonicalSymbol(symbol)
		record, ok := records[canonical]
		if !ok {
			c.logger.Debug().Str("symbol", canonical).Msg("symbol absent from listing")
			continue
		}
		rows = append(rows, pipeline.RawRow{
			Symbol:    canonical,
			Price:     record["price"],
			Volume:    record["volume_24h"],
			Change24h: record["change_24h"],
			Currency:  "USD",
			Timestamp: now,
			Source:    c.Name(),
		})
	}
	return rows, nil
}

var (
	_ Collector               = (*CoinMarketCap)(nil)
	_ pipeline.GenericScraper = (*CoinMarketCap)(nil)
)
