// Package meteora probes the Meteora pool API for pool visibility.
// The UI serves a pool page once the backend indexes the pool, so a 200
// on the pool lookup is the earliest signal that UI users can see it.
package meteora

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://app.meteora.ag/api"

// Config configures the Meteora pool API client.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Timeout: 5 * time.Second,
	}
}

// Client is the Meteora pool lookup client.
type Client struct {
	config     Config
	httpClient *http.Client

	lookupCount atomic.Int64
	hitCount    atomic.Int64
	errorCount  atomic.Int64
}

// NewClient creates a Meteora pool lookup client.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
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

// CheckListed reports whether the Meteora backend serves the pool.
// A 404 is the normal not-yet-indexed answer; any other failure also
// reads as not-listed.
func (c *Client) CheckListed(ctx context.Context, address solana.Pubkey) bool {
	c.lookupCount.Add(1)

	lookupURL := fmt.Sprintf("%s/pools/%s", strings.TrimRight(c.config.BaseURL, "/"), address)
	req, err := http.NewRequestWithContext(ctx, "GET", lookupURL, nil)
	if err != nil {
		c.errorCount.Add(1)
		log.Debug().Err(err).Msg("meteora: create lookup request")
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.errorCount.Add(1)
		log.Debug().Err(err).Msg("meteora: lookup failed")
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		c.hitCount.Add(1)
		log.Debug().Str("pool", string(address)).Msg("meteora: pool indexed")
		return true
	case 404:
		return false
	default:
		c.errorCount.Add(1)
		log.Debug().Int("status", resp.StatusCode).Msg("meteora: unexpected lookup status")
		return false
	}
}

// Name identifies the platform in listing results.
func (c *Client) Name() string { return "Meteora" }

// Stats returns lookup counters.
type Stats struct {
	LookupCount int64 `json:"lookup_count"`
	HitCount    int64 `json:"hit_count"`
	ErrorCount  int64 `json:"error_count"`
}

func (c *Client) Stats() Stats {
	return Stats{
		LookupCount: c.lookupCount.Load(),
		HitCount:    c.hitCount.Load(),
		ErrorCount:  c.errorCount.Load(),
	}
}
