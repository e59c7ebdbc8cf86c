// Package jupiter probes the Jupiter V6 quote API for pool visibility.
// A routable quote through the watched pool means the aggregator has
// indexed it and serves it to UI users.
// https://station.jup.ag/docs/apis/swap-api
package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

const (
	defaultQuoteURL = "https://quote-api.jup.ag/v6/quote"

	// Probe parameters. The amount is nominal; we only care whether a
	// route exists, not about the price.
	probeAmount      = 1_000_000
	probeSlippageBps = 50
)

// Config configures the Jupiter quote client.
type Config struct {
	QuoteURL string        `yaml:"quote_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QuoteURL: defaultQuoteURL,
		Timeout:  5 * time.Second,
	}
}

// Client is the Jupiter V6 quote API client.
type Client struct {
	config     Config
	httpClient *http.Client

	quoteCount atomic.Int64
	hitCount   atomic.Int64
	errorCount atomic.Int64
}

// NewClient creates a Jupiter quote client.
func NewClient(config Config) *Client {
	if config.QuoteURL == "" {
		config.QuoteURL = defaultQuoteURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// QuoteResponse is the subset of the /quote response the probe inspects.
type QuoteResponse struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	RoutePlan      []struct {
		Percent  int `json:"percent"`
		SwapInfo struct {
			AmmKey string `json:"ammKey"`
			Label  string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
	ContextSlot uint64 `json:"contextSlot"`
}

// GetQuote fetches a nominal quote between two mints.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint solana.Pubkey) (*QuoteResponse, error) {
	queryURL, err := url.Parse(c.config.QuoteURL)
	if err != nil {
		return nil, fmt.Errorf("jupiter: parse URL: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", string(inputMint))
	q.Set("outputMint", string(outputMint))
	q.Set("amount", fmt.Sprintf("%d", probeAmount))
	q.Set("slippageBps", fmt.Sprintf("%d", probeSlippageBps))
	q.Set("onlyDirectRoutes", "false")
	queryURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", queryURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("jupiter: create quote request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: quote HTTP error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: read quote response: %w", err)
	}

	if resp.StatusCode != 200 {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: quote HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var quote QuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		c.errorCount.Add(1)
		return nil, fmt.Errorf("jupiter: parse quote: %w", err)
	}

	c.quoteCount.Add(1)
	return &quote, nil
}

// CheckListed reports whether Jupiter routes between the pool's two
// mints through a Meteora venue. A pair that only routes through other
// AMMs is not evidence the new pool is indexed, so those quotes read as
// not-listed. Any failure also reads as not-listed; the poller simply
// tries again next round.
func (c *Client) CheckListed(ctx context.Context, tokenA, tokenB solana.Pubkey) bool {
	quote, err := c.GetQuote(ctx, tokenA, tokenB)
	if err != nil {
		log.Debug().Err(err).Msg("jupiter: listing probe failed")
		return false
	}
	if len(quote.RoutePlan) == 0 || quote.OutAmount == "" || quote.OutAmount == "0" {
		return false
	}
	if !routesThroughMeteora(quote) {
		log.Debug().
			Str("in", shortMint(quote.InputMint)).
			Str("out", shortMint(quote.OutputMint)).
			Int("legs", len(quote.RoutePlan)).
			Msg("jupiter: route exists but touches no Meteora market")
		return false
	}

	c.hitCount.Add(1)
	log.Debug().
		Str("in", shortMint(quote.InputMint)).
		Str("out", shortMint(quote.OutputMint)).
		Str("out_amount", quote.OutAmount).
		Int("legs", len(quote.RoutePlan)).
		Msg("jupiter: route found")
	return true
}

// routesThroughMeteora reports whether any route leg runs on a Meteora
// market, matched on the AMM key or the venue label.
func routesThroughMeteora(quote *QuoteResponse) bool {
	for _, leg := range quote.RoutePlan {
		if strings.Contains(leg.SwapInfo.AmmKey, string(solana.MeteoraProgramID)) {
			return true
		}
		if strings.Contains(strings.ToLower(leg.SwapInfo.Label), "meteora") {
			return true
		}
	}
	return false
}

// Name identifies the platform in listing results.
func (c *Client) Name() string { return "Jupiter" }

func shortMint(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Stats returns probe counters.
type Stats struct {
	QuoteCount int64 `json:"quote_count"`
	HitCount   int64 `json:"hit_count"`
	ErrorCount int64 `json:"error_count"`
}

func (c *Client) Stats() Stats {
	return Stats{
		QuoteCount: c.quoteCount.Load(),
		HitCount:   c.hitCount.Load(),
		ErrorCount: c.errorCount.Load(),
	}
}
