// Package decoder turns raw log events into pool-creation events.
// Heuristic recognition: there is no stable on-chain discriminator for
// pool creation across program versions, so the decoder matches log
// markers and the transaction's account shape instead.
package decoder

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/mr-tron/base58"
	"github.com/poolwatch-trading/poolwatch/internal/pool"
	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

// creationMarkers are the log substrings that indicate a pool-creation
// instruction across program versions. Any single match qualifies.
var creationMarkers = []string{
	"initialize",
	"createPool",
	"createLiquidity",
}

// tokenAccountMinLen covers the mint pubkey at the head of SPL token
// account data.
const tokenAccountMinLen = 32

var errShortAccountData = errors.New("decoder: token account data too short")

// Decoder resolves signatures into pool-creation events.
type Decoder struct {
	rpc       solana.RPCClient
	programID solana.Pubkey

	decoded atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64
}

// New creates a decoder bound to the watched program.
func New(rpc solana.RPCClient, programID solana.Pubkey) *Decoder {
	if programID == "" {
		programID = solana.MeteoraProgramID
	}
	return &Decoder{
		rpc:       rpc,
		programID: programID,
	}
}

// Decode fetches the transaction behind a log event and extracts the
// pool-creation event, or nil when the transaction is anything else.
// A nil event is not an error; most program transactions are swaps.
func (d *Decoder) Decode(ctx context.Context, ev solana.LogEvent) *pool.Event {
	if !hasCreationMarker(ev.Logs) {
		d.misses.Add(1)
		return nil
	}

	tx, err := d.rpc.GetTransaction(ctx, ev.Signature)
	if err != nil {
		d.errors.Add(1)
		log.Debug().Err(err).Str("sig", string(ev.Signature)).Msg("decoder: transaction fetch failed")
		return nil
	}
	if tx.Failed {
		d.misses.Add(1)
		return nil
	}

	tokenAccounts := make([]solana.TxAccount, 0, 4)
	for _, acc := range tx.Accounts {
		if acc.Owner == solana.TokenProgramID && !acc.Executable {
			tokenAccounts = append(tokenAccounts, acc)
		}
	}
	if len(tokenAccounts) < 2 {
		d.misses.Add(1)
		return nil
	}

	poolAddr := d.findPoolAccount(tx.Accounts)
	if poolAddr == "" {
		d.misses.Add(1)
		return nil
	}

	tokenA, err := d.resolveMint(ctx, tokenAccounts[0].Pubkey)
	if err != nil {
		d.errors.Add(1)
		log.Debug().Err(err).Msg("decoder: mint A resolution failed")
		return nil
	}
	tokenB, err := d.resolveMint(ctx, tokenAccounts[1].Pubkey)
	if err != nil {
		d.errors.Add(1)
		log.Debug().Err(err).Msg("decoder: mint B resolution failed")
		return nil
	}

	d.decoded.Add(1)
	event := &pool.Event{
		Address:   poolAddr,
		TokenA:    tokenA,
		TokenB:    tokenB,
		CreatedAt: tx.CreatedAt(),
		Signature: tx.Signature,
		Slot:      tx.Slot,
	}

	log.Info().
		Str("pool", string(event.Address)).
		Str("token_a", string(event.TokenA)).
		Str("token_b", string(event.TokenB)).
		Uint64("slot", event.Slot).
		Msg("decoder: pool creation detected")

	return event
}

// findPoolAccount picks the first writable-shaped candidate: not a
// program, not executable. The creating instruction lists the new pool
// account before ancillary accounts.
func (d *Decoder) findPoolAccount(accounts []solana.TxAccount) solana.Pubkey {
	for _, acc := range accounts {
		if acc.Executable {
			continue
		}
		if acc.Pubkey == d.programID ||
			acc.Pubkey == solana.TokenProgramID ||
			acc.Pubkey == solana.SystemProgramID {
			continue
		}
		if acc.Owner == solana.TokenProgramID || acc.Owner == solana.SystemProgramID {
			continue
		}
		return acc.Pubkey
	}
	return ""
}

// resolveMint reads the token account's data and extracts the mint
// pubkey from its head.
func (d *Decoder) resolveMint(ctx context.Context, account solana.Pubkey) (solana.Pubkey, error) {
	data, err := d.rpc.GetAccountData(ctx, account)
	if err != nil {
		return "", err
	}
	if len(data) < tokenAccountMinLen {
		return "", errShortAccountData
	}
	return solana.Pubkey(base58.Encode(data[:tokenAccountMinLen])), nil
}

func hasCreationMarker(logs []string) bool {
	for _, line := range logs {
		for _, marker := range creationMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}

// Stats returns decode counters.
type Stats struct {
	Decoded int64 `json:"decoded"`
	Misses  int64 `json:"misses"`
	Errors  int64 `json:"errors"`
}

func (d *Decoder) Stats() Stats {
	return Stats{
		Decoded: d.decoded.Load(),
		Misses:  d.misses.Load(),
		Errors:  d.errors.Load(),
	}
}
