package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the ledger capability surface the watcher depends on.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetTransaction fetches a transaction by signature, with account keys
	// enriched by owner/executable. Returns an error if the transaction is
	// not available at the requested commitment.
	GetTransaction(ctx context.Context, sig Signature) (*TransactionDetail, error)

	// GetAccountData fetches the raw data bytes of an account.
	GetAccountData(ctx context.Context, account Pubkey) ([]byte, error)

	// GetTokenBalance returns the owner's balance of a mint (ui amount).
	// A missing token account reads as zero, not an error.
	GetTokenBalance(ctx context.Context, owner, mint Pubkey) (decimal.Decimal, error)

	// SubmitFunding builds, signs and broadcasts a single liquidity-deposit
	// transaction and returns its signature. Broadcast retries are the
	// client's own budget; confirmation is the caller's concern.
	SubmitFunding(ctx context.Context, params FundingParams) (Signature, error)

	// GetTransactionStatus checks confirmation status.
	GetTransactionStatus(ctx context.Context, sig Signature) (string, error) // pending|confirmed|finalized|failed

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	WSEndpoint   string        `yaml:"ws_endpoint"`
	Commitment   string        `yaml:"commitment"` // processed|confirmed|finalized
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	PrivateKey   string        `yaml:"private_key"` // base58 encoded wallet private key
}

// DefaultRPCConfig returns mainnet defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Commitment:   "confirmed",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is a mock RPC client for testing.
type StubRPCClient struct {
	mu           sync.RWMutex
	transactions map[Signature]*TransactionDetail
	accountData  map[Pubkey][]byte
	balances     map[Pubkey]decimal.Decimal // mint -> balance for the stub wallet
	statuses     map[Signature]string
	statusAll    string
	fundings     []FundingParams
	failNext     bool
	failFunding  bool
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		transactions: make(map[Signature]*TransactionDetail),
		accountData:  make(map[Pubkey][]byte),
		balances:     make(map[Pubkey]decimal.Decimal),
		statuses:     make(map[Signature]string),
	}
}

// AddTransaction registers a transaction for the stub to return.
func (s *StubRPCClient) AddTransaction(tx TransactionDetail) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.Signature] = &tx
}

// SetAccountData registers raw account data.
func (s *StubRPCClient) SetAccountData(account Pubkey, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountData[account] = data
}

// SetBalance sets the stub wallet balance for a mint.
func (s *StubRPCClient) SetBalance(mint Pubkey, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[mint] = amount
}

// SetStatus overrides the status reported for a signature.
func (s *StubRPCClient) SetStatus(sig Signature, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[sig] = status
}

// SetDefaultStatus overrides the status reported for signatures without
// an explicit SetStatus entry.
func (s *StubRPCClient) SetDefaultStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusAll = status
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// SetFailFunding makes all SubmitFunding calls fail.
func (s *StubRPCClient) SetFailFunding(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFunding = fail
}

// Fundings returns all funding submissions seen by the stub.
func (s *StubRPCClient) Fundings() []FundingParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FundingParams, len(s.fundings))
	copy(out, s.fundings)
	return out
}

func (s *StubRPCClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubRPCClient) GetTransaction(_ context.Context, sig Signature) (*TransactionDetail, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tx, ok := s.transactions[sig]; ok {
		return tx, nil
	}
	return nil, fmt.Errorf("stub: transaction %s not found", sig)
}

func (s *StubRPCClient) GetAccountData(_ context.Context, account Pubkey) ([]byte, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if data, ok := s.accountData[account]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("stub: account %s not found", account)
}

func (s *StubRPCClient) GetTokenBalance(_ context.Context, _, mint Pubkey) (decimal.Decimal, error) {
	if s.shouldFail() {
		return decimal.Zero, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[mint], nil
}

func (s *StubRPCClient) SubmitFunding(_ context.Context, params FundingParams) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFunding {
		return "", fmt.Errorf("stub: simulated funding failure")
	}
	s.fundings = append(s.fundings, params)
	return Signature(fmt.Sprintf("stub-sig-%d", time.Now().UnixNano())), nil
}

func (s *StubRPCClient) GetTransactionStatus(_ context.Context, sig Signature) (string, error) {
	if s.shouldFail() {
		return "", fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status, ok := s.statuses[sig]; ok {
		return status, nil
	}
	if s.statusAll != "" {
		return s.statusAll, nil
	}
	return "confirmed", nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}
