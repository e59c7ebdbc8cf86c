// Package pool holds the domain types shared by the detection pipeline:
// the decoded pool-creation event and the per-pool run state machine.
package pool

import (
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/shopspring/decimal"
)

// Event is a decoded pool-creation event. Immutable once constructed;
// identity key is Address.
//
// TokenA/TokenB assignment is positional (the order the token accounts
// appeared in the creating transaction), not base/quote semantics.
type Event struct {
	Address   solana.Pubkey    `json:"pool_address"`
	TokenA    solana.Pubkey    `json:"token_a"`
	TokenB    solana.Pubkey    `json:"token_b"`
	CreatedAt time.Time        `json:"created_at"`
	Signature solana.Signature `json:"signature"`
	Slot      uint64           `json:"slot"`
}

// FundingResult is produced once per pool on a successful deposit.
type FundingResult struct {
	Receipt solana.Signature `json:"receipt"`
	AmountA decimal.Decimal  `json:"amount_a"`
	AmountB decimal.Decimal  `json:"amount_b"`
}

// ListingResult is the terminal value of the listing poller for a pool.
type ListingResult struct {
	Listed        bool            `json:"listed"`
	Platforms     map[string]bool `json:"platforms,omitempty"`
	SecondsToList int             `json:"seconds_to_list"` // 0 when not listed
}

// PlatformNames returns the matched platforms in a stable order.
func (r ListingResult) PlatformNames() []string {
	names := make([]string, 0, len(r.Platforms))
	for _, p := range []string{"Jupiter", "Meteora"} {
		if r.Platforms[p] {
			names = append(names, p)
		}
	}
	return names
}

// ---------------------------------------------------------------------------
// Pipeline state machine
// ---------------------------------------------------------------------------

// PipelineState is the per-pool run state. Transitions are monotonic: a
// state is never re-entered once left.
type PipelineState string

const (
	StateDetected           PipelineState = "DETECTED"
	StateFunding            PipelineState = "FUNDING"
	StateFundingFailed      PipelineState = "FUNDING_FAILED"
	StateFunded             PipelineState = "FUNDED"
	StatePolling            PipelineState = "POLLING"
	StateListedOnJupiter    PipelineState = "LISTED_JUPITER"
	StateListedOnAggregator PipelineState = "LISTED_METEORA"
	StateListedBoth         PipelineState = "LISTED_BOTH"
	StateTimedOut           PipelineState = "TIMED_OUT"
)

// stateRank orders states so that transitions can only move forward.
// Terminal states share the highest rank band.
var stateRank = map[PipelineState]int{
	StateDetected:           0,
	StateFunding:            1,
	StateFundingFailed:      5,
	StateFunded:             2,
	StatePolling:            3,
	StateListedOnJupiter:    5,
	StateListedOnAggregator: 5,
	StateListedBoth:         5,
	StateTimedOut:           5,
}

// IsTerminal reports whether no further transition is allowed from s.
func (s PipelineState) IsTerminal() bool {
	switch s {
	case StateFundingFailed, StateListedOnJupiter, StateListedOnAggregator, StateListedBoth, StateTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next preserves
// monotonicity.
func (s PipelineState) CanTransition(next PipelineState) bool {
	if s.IsTerminal() || s == next {
		return false
	}
	from, ok := stateRank[s]
	if !ok {
		return false
	}
	to, ok := stateRank[next]
	if !ok {
		return false
	}
	return to > from
}

// ListingState maps a listing result onto the terminal pipeline state.
func ListingState(r ListingResult) PipelineState {
	switch {
	case r.Platforms["Jupiter"] && r.Platforms["Meteora"]:
		return StateListedBoth
	case r.Platforms["Jupiter"]:
		return StateListedOnJupiter
	case r.Platforms["Meteora"]:
		return StateListedOnAggregator
	default:
		return StateTimedOut
	}
}
