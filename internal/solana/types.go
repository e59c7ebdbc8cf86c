package solana

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known program IDs on mainnet.
const (
	// MeteoraProgramID is the Meteora pools program this watcher targets.
	MeteoraProgramID Pubkey = "M2mx93ekt1fmXSVkTrUL9xVFHkmME8HTUi5Cyc5aF7K"

	// TokenProgramID is the SPL token program that owns token accounts.
	TokenProgramID Pubkey = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

	// SystemProgramID owns plain system accounts.
	SystemProgramID Pubkey = "11111111111111111111111111111111"
)

// ---------------------------------------------------------------------------
// Transaction types
// ---------------------------------------------------------------------------

// TxAccount is one account referenced by a transaction, enriched with the
// on-chain owner and executable flag of the account itself.
type TxAccount struct {
	Pubkey     Pubkey `json:"pubkey"`
	Owner      Pubkey `json:"owner"`
	Executable bool   `json:"executable"`
	Signer     bool   `json:"signer"`
	Writable   bool   `json:"writable"`
}

// TransactionDetail is the decoded view of a fetched transaction.
type TransactionDetail struct {
	Signature   Signature   `json:"signature"`
	Slot        uint64      `json:"slot"`
	BlockTime   int64       `json:"block_time"` // unix seconds, 0 if unknown
	Accounts    []TxAccount `json:"accounts"`
	LogMessages []string    `json:"log_messages"`
	Failed      bool        `json:"failed"`
}

// CreatedAt returns the block time, falling back to now for transactions
// the RPC node has not timestamped yet.
func (t *TransactionDetail) CreatedAt() time.Time {
	if t.BlockTime > 0 {
		return time.Unix(t.BlockTime, 0)
	}
	return time.Now()
}

// ---------------------------------------------------------------------------
// Funding types
// ---------------------------------------------------------------------------

// FundingParams describe a single liquidity deposit into a pool. The
// instruction encoding is the RPC client's concern; callers only choose
// the pool, the two mints and the deposit amounts.
type FundingParams struct {
	Pool    Pubkey          `json:"pool"`
	TokenA  Pubkey          `json:"token_a"`
	TokenB  Pubkey          `json:"token_b"`
	AmountA decimal.Decimal `json:"amount_a"`
	AmountB decimal.Decimal `json:"amount_b"`
}
