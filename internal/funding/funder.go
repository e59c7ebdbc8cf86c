// Package funding supplies initial liquidity to a freshly created pool.
// One shot per pool: the deposit is a single transaction with a bounded
// confirmation window and no automatic retry. A lost race is cheaper
// than a doubled deposit.
package funding

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/pool"
	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config configures the funder.
type Config struct {
	// LPRatioPct is the share of each wallet balance committed to the
	// deposit, in percent. The remainder stays liquid for exits.
	LPRatioPct int `yaml:"lp_ratio_pct"`

	// Confirmation polling budget for the deposit transaction.
	ConfirmAttempts   int `yaml:"confirm_attempts"`
	ConfirmIntervalMs int `yaml:"confirm_interval_ms"`

	// DryRun fabricates receipts instead of broadcasting.
	DryRun bool `yaml:"dry_run"`

	// Wallet is the base58 public key of the funding wallet.
	Wallet string `yaml:"wallet"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		LPRatioPct:        80,
		ConfirmAttempts:   30,
		ConfirmIntervalMs: 1000,
	}
}

// Funder executes the liquidity deposit for detected pools.
type Funder struct {
	config Config
	rpc    solana.RPCClient

	funded    atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
	dryFunded atomic.Int64
}

// NewFunder creates a funder.
func NewFunder(config Config, rpc solana.RPCClient) *Funder {
	if config.LPRatioPct <= 0 || config.LPRatioPct > 100 {
		config.LPRatioPct = 80
	}
	if config.ConfirmAttempts <= 0 {
		config.ConfirmAttempts = 30
	}
	if config.ConfirmIntervalMs <= 0 {
		config.ConfirmIntervalMs = 1000
	}
	return &Funder{
		config: config,
		rpc:    rpc,
	}
}

// Fund deposits liquidity into the pool. Returns (nil, nil) when the
// wallet holds nothing to deposit on either side or a balance cannot be
// read; both are skips, not failures. Errors after submission are
// terminal for the pool, there is no retry.
func (f *Funder) Fund(ctx context.Context, ev pool.Event) (*pool.FundingResult, error) {
	wallet := solana.Pubkey(f.config.Wallet)

	balanceA, err := f.rpc.GetTokenBalance(ctx, wallet, ev.TokenA)
	if err != nil {
		f.skipped.Add(1)
		log.Warn().Err(err).
			Str("pool", string(ev.Address)).
			Str("mint", string(ev.TokenA)).
			Msg("funding: balance lookup failed, skipping pool")
		return nil, nil
	}
	balanceB, err := f.rpc.GetTokenBalance(ctx, wallet, ev.TokenB)
	if err != nil {
		f.skipped.Add(1)
		log.Warn().Err(err).
			Str("pool", string(ev.Address)).
			Str("mint", string(ev.TokenB)).
			Msg("funding: balance lookup failed, skipping pool")
		return nil, nil
	}

	if !balanceA.IsPositive() || !balanceB.IsPositive() {
		f.skipped.Add(1)
		log.Info().
			Str("pool", string(ev.Address)).
			Str("balance_a", balanceA.String()).
			Str("balance_b", balanceB.String()).
			Msg("funding: insufficient balance, skipping pool")
		return nil, nil
	}

	ratio := decimal.NewFromInt(int64(f.config.LPRatioPct)).Div(decimal.NewFromInt(100))
	amountA := balanceA.Mul(ratio)
	amountB := balanceB.Mul(ratio)

	params := solana.FundingParams{
		Pool:    ev.Address,
		TokenA:  ev.TokenA,
		TokenB:  ev.TokenB,
		AmountA: amountA,
		AmountB: amountB,
	}

	if f.config.DryRun {
		f.dryFunded.Add(1)
		receipt := solana.Signature(fmt.Sprintf("DRYRUN-FUND-%d", time.Now().UnixNano()))
		log.Info().
			Str("pool", string(ev.Address)).
			Str("amount_a", amountA.String()).
			Str("amount_b", amountB.String()).
			Str("receipt", string(receipt)).
			Msg("funding: DRY RUN deposit")
		return &pool.FundingResult{Receipt: receipt, AmountA: amountA, AmountB: amountB}, nil
	}

	receipt, err := f.rpc.SubmitFunding(ctx, params)
	if err != nil {
		f.failed.Add(1)
		return nil, fmt.Errorf("funding: submit: %w", err)
	}

	log.Info().
		Str("pool", string(ev.Address)).
		Str("receipt", string(receipt)).
		Str("amount_a", amountA.String()).
		Str("amount_b", amountB.String()).
		Msg("funding: deposit submitted")

	if err := f.awaitConfirmation(ctx, receipt); err != nil {
		f.failed.Add(1)
		return nil, fmt.Errorf("funding: confirm %s: %w", receipt, err)
	}

	f.funded.Add(1)
	log.Info().Str("pool", string(ev.Address)).Str("receipt", string(receipt)).Msg("funding: deposit confirmed")

	return &pool.FundingResult{Receipt: receipt, AmountA: amountA, AmountB: amountB}, nil
}

// awaitConfirmation polls the transaction status within the configured
// budget. Running out of budget is an error; the pipeline treats the
// pool as failed rather than resubmitting.
func (f *Funder) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	interval := time.Duration(f.config.ConfirmIntervalMs) * time.Millisecond

	for attempt := 1; attempt <= f.config.ConfirmAttempts; attempt++ {
		status, err := f.rpc.GetTransactionStatus(ctx, sig)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("funding: status poll failed")
		} else {
			switch status {
			case "confirmed", "finalized":
				return nil
			case "failed":
				return fmt.Errorf("transaction failed on chain")
			}
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("not confirmed after %d attempts", f.config.ConfirmAttempts)
}

// Stats returns funding counters.
type Stats struct {
	Funded    int64 `json:"funded"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
	DryFunded int64 `json:"dry_funded"`
}

func (f *Funder) Stats() Stats {
	return Stats{
		Funded:    f.funded.Load(),
		Skipped:   f.skipped.Load(),
		Failed:    f.failed.Load(),
		DryFunded: f.dryFunded.Load(),
	}
}
