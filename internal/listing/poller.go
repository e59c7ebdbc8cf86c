// Package listing polls aggregator surfaces until a pool becomes
// visible to UI users or the polling budget runs out. The elapsed time
// is the delay this whole system exists to measure.
package listing

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/pool"
	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

// RouteProbe answers whether an aggregator can route between two mints.
type RouteProbe interface {
	CheckListed(ctx context.Context, tokenA, tokenB solana.Pubkey) bool
	Name() string
}

// PoolProbe answers whether a platform backend serves a pool address.
type PoolProbe interface {
	CheckListed(ctx context.Context, address solana.Pubkey) bool
	Name() string
}

// Config configures the listing poller.
type Config struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// DefaultConfig returns production defaults: 30 rounds, 10 seconds
// apart, a five minute ceiling on the measurement.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 30,
		Interval:    10 * time.Second,
	}
}

// Poller drives the per-pool listing checks.
type Poller struct {
	config Config
	route  RouteProbe
	pools  PoolProbe

	confirmed atomic.Int64
	timedOut  atomic.Int64
	cancelled atomic.Int64
}

// NewPoller creates a poller over the two listing probes.
func NewPoller(config Config, route RouteProbe, pools PoolProbe) *Poller {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 30
	}
	if config.Interval <= 0 {
		config.Interval = 10 * time.Second
	}
	return &Poller{
		config: config,
		route:  route,
		pools:  pools,
	}
}

// Poll checks both probes each round until one confirms the pool or the
// budget is exhausted. Both probes run concurrently and both answers
// are collected before the round is judged, so a confirmed result
// carries every platform that was positive that round.
func (p *Poller) Poll(ctx context.Context, ev pool.Event) pool.ListingResult {
	intervalSeconds := int(p.config.Interval / time.Second)

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		var wg sync.WaitGroup
		var routeListed, poolListed bool

		wg.Add(2)
		go func() {
			defer wg.Done()
			routeListed = p.route.CheckListed(ctx, ev.TokenA, ev.TokenB)
		}()
		go func() {
			defer wg.Done()
			poolListed = p.pools.CheckListed(ctx, ev.Address)
		}()
		wg.Wait()

		if routeListed || poolListed {
			result := pool.ListingResult{
				Listed:        true,
				Platforms:     map[string]bool{},
				SecondsToList: attempt * intervalSeconds,
			}
			if routeListed {
				result.Platforms[p.route.Name()] = true
			}
			if poolListed {
				result.Platforms[p.pools.Name()] = true
			}

			p.confirmed.Add(1)
			log.Info().
				Str("pool", string(ev.Address)).
				Int("attempt", attempt).
				Int("seconds_to_list", result.SecondsToList).
				Strs("platforms", result.PlatformNames()).
				Msg("listing: pool confirmed visible")
			return result
		}

		log.Debug().
			Str("pool", string(ev.Address)).
			Int("attempt", attempt).
			Int("max", p.config.MaxAttempts).
			Msg("listing: not visible yet")

		if attempt == p.config.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.config.Interval):
		case <-ctx.Done():
			// Shutdown or pipeline teardown, not a listing timeout.
			p.cancelled.Add(1)
			log.Debug().
				Str("pool", string(ev.Address)).
				Int("attempt", attempt).
				Msg("listing: poll cancelled")
			return pool.ListingResult{}
		}
	}

	p.timedOut.Add(1)
	log.Warn().
		Str("pool", string(ev.Address)).
		Int("attempts", p.config.MaxAttempts).
		Msg("listing: polling budget exhausted")
	return pool.ListingResult{}
}

// Stats returns poll outcome counters.
type Stats struct {
	Confirmed int64 `json:"confirmed"`
	TimedOut  int64 `json:"timed_out"`
	Cancelled int64 `json:"cancelled"`
}

func (p *Poller) Stats() Stats {
	return Stats{
		Confirmed: p.confirmed.Load(),
		TimedOut:  p.timedOut.Load(),
		Cancelled: p.cancelled.Load(),
	}
}
