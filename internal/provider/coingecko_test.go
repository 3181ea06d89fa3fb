package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestCoinGeckoSimplePrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query().Get("ids")
		if ids == "" {
			t.Fatal("ids query parameter missing")
		}
		if r.URL.Query().Get("vs_currencies") != "usd" {
			t.Fatal("vs_currencies should be usd")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]map[string]float64{
			"bitcoin":  {"usd": 50000, "usd_24h_vol": 2.1e10, "usd_24h_change": 1.5},
			"dogecoin": {"usd": 0.08, "usd_24h_vol": 5e8, "usd_24h_change": -0.3},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())

	records, err := c.SimplePrices(context.Background(), []string{"btc", "DOGE", "UNKNOWN"})
	if err != nil {
		t.Fatalf("SimplePrices should succeed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records["BTC"]["usd"] != 50000.0 {
		t.Fatalf("unexpected BTC record: %#v", records["BTC"])
	}
	if records["DOGE"]["usd_24h_change"] != -0.3 {
		t.Fatalf("unexpected DOGE record: %#v", records["DOGE"])
	}
}

func TestCoinGeckoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := c.SimplePrices(context.Background(), []string{"BTC"}); err == nil {
		t.Fatal("HTTP 429 should return an error")
	}
}

func TestCoinGeckoNoKnownSymbols(t *testing.T) {
	c := NewCoinGecko(CoinGeckoOptions{BaseURL: "http://127.0.0.1:0", Timeout: time.Second}, noopLogger())
	records, err := c.SimplePrices(context.Background(), []string{"NOSUCH"})
	if err != nil {
		t.Fatalf("unknown symbols should not trigger a request: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty records, got %#v", records)
	}
}

func TestCoinGeckoCollect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]map[string]float64{
			"ethereum": {"usd": 3000, "usd_24h_vol": 1.2e10, "usd_24h_change": 2.0},
		})
	}))
	defer srv.Close()

	c := NewCoinGecko(CoinGeckoOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	rows, err := c.Collect(context.Background(), []string{"ETH"})
	if err != nil {
		t.Fatalf("Collect should succeed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Symbol != "ETH" || rows[0].Source != "coingecko" || rows[0].Currency != "USD" {
		t.Fatalf("unexpected row: %#v", rows[0])
	}
	if rows[0].Price.(float64) != 3000.0 {
		t.Fatalf("unexpected price: %#v", rows[0].Price)
	}
}
