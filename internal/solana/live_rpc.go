package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live RPC Client — real Solana JSON-RPC with rate limiting & retry
// ---------------------------------------------------------------------------

// LiveRPCClient connects to a real Solana RPC endpoint.
type LiveRPCClient struct {
	config     RPCConfig
	httpClient *http.Client

	// Rate limiter (token bucket).
	limiter       chan struct{}
	limiterCtx    context.Context
	limiterCancel context.CancelFunc

	// Unique request ID generator.
	nextID atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	// Stats.
	requestCount  atomic.Int64
	errorCount    atomic.Int64
	latencySum    atomic.Int64 // cumulative microseconds
	lastRequestAt atomic.Int64
}

const (
	circuitBreakerThreshold = 10 // open after 10 consecutive errors
	circuitBreakerCooldown  = 30 * time.Second
)

// NewLiveRPCClient creates a live Solana RPC client.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 10
	}
	if config.Commitment == "" {
		config.Commitment = "confirmed"
	}

	// Token bucket rate limiter.
	bucketSize := int(config.RateLimitRPS)
	if bucketSize < 1 {
		bucketSize = 1
	}
	limiter := make(chan struct{}, bucketSize)
	for i := 0; i < bucketSize; i++ {
		limiter <- struct{}{}
	}

	limiterCtx, limiterCancel := context.WithCancel(context.Background())

	client := &LiveRPCClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter:       limiter,
		limiterCtx:    limiterCtx,
		limiterCancel: limiterCancel,
	}

	// Refill tokens at configured RPS.
	go func() {
		interval := time.Duration(float64(time.Second) / config.RateLimitRPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-limiterCtx.Done():
				return
			case <-ticker.C:
				select {
				case client.limiter <- struct{}{}:
				default: // bucket full
				}
			}
		}
	}()

	return client
}

// Close shuts down the RPC client.
func (c *LiveRPCClient) Close() {
	c.limiterCancel()
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// call makes a rate-limited, retried JSON-RPC call.
func (c *LiveRPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	// Circuit breaker check.
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("rpc: circuit breaker open for %s (too many consecutive errors)", method)
	}

	// Acquire rate limit token.
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	reqID := c.nextID.Add(1)

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("rpc: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s http error: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("rpc: %s read response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		latency := time.Since(start)
		c.requestCount.Add(1)
		c.latencySum.Add(latency.Microseconds())
		c.lastRequestAt.Store(time.Now().UnixMilli())

		if resp.StatusCode == 429 {
			lastErr = fmt.Errorf("rpc: %s rate limited (429)", method)
			c.errorCount.Add(1)
			// Longer backoff on 429 - don't count as circuit-breaker error.
			select {
			case <-time.After(time.Duration(2<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
			c.errorCount.Add(1)
			c.recordError()
			continue
		}

		if rpcResp.Error != nil {
			c.resetErrors()
			return nil, fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
		}

		// Success - reset circuit breaker.
		c.resetErrors()
		return rpcResp.Result, nil
	}

	return nil, fmt.Errorf("rpc: %s failed after %d attempts: %w", method, c.config.MaxRetries+1, lastErr)
}

// recordError increments consecutive errors and opens circuit breaker if needed.
func (c *LiveRPCClient) recordError() {
	count := c.consecutiveErrors.Add(1)
	if count >= circuitBreakerThreshold {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("rpc: CIRCUIT BREAKER OPEN - too many consecutive errors")
			// Auto-reset after cooldown.
			go func() {
				time.Sleep(circuitBreakerCooldown)
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("rpc: circuit breaker reset")
			}()
		}
	}
}

// resetErrors resets the consecutive error counter.
func (c *LiveRPCClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// ---------------------------------------------------------------------------
// RPCClient interface implementation
// ---------------------------------------------------------------------------

// GetTransaction fetches a transaction and enriches its account keys with
// owner/executable via getMultipleAccounts.
func (c *LiveRPCClient) GetTransaction(ctx context.Context, sig Signature) (*TransactionDetail, error) {
	result, err := c.call(ctx, "getTransaction", []any{
		string(sig),
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     c.config.Commitment,
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, err
	}

	var txResp struct {
		Slot        uint64 `json:"slot"`
		BlockTime   int64  `json:"blockTime"`
		Transaction struct {
			Message struct {
				AccountKeys []struct {
					Pubkey   string `json:"pubkey"`
					Signer   bool   `json:"signer"`
					Writable bool   `json:"writable"`
				} `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
		Meta *struct {
			Err         any      `json:"err"`
			LogMessages []string `json:"logMessages"`
		} `json:"meta"`
	}

	if err := json.Unmarshal(result, &txResp); err != nil {
		return nil, fmt.Errorf("rpc: parse transaction: %w", err)
	}

	if len(txResp.Transaction.Message.AccountKeys) == 0 {
		return nil, fmt.Errorf("rpc: transaction %s not available", sig)
	}

	detail := &TransactionDetail{
		Signature: sig,
		Slot:      txResp.Slot,
		BlockTime: txResp.BlockTime,
	}
	if txResp.Meta != nil {
		detail.LogMessages = txResp.Meta.LogMessages
		detail.Failed = txResp.Meta.Err != nil
	}

	keys := make([]string, 0, len(txResp.Transaction.Message.AccountKeys))
	for _, k := range txResp.Transaction.Message.AccountKeys {
		keys = append(keys, k.Pubkey)
	}
	owners, executables, err := c.getAccountMeta(ctx, keys)
	if err != nil {
		return nil, err
	}

	for i, k := range txResp.Transaction.Message.AccountKeys {
		detail.Accounts = append(detail.Accounts, TxAccount{
			Pubkey:     Pubkey(k.Pubkey),
			Owner:      owners[i],
			Executable: executables[i],
			Signer:     k.Signer,
			Writable:   k.Writable,
		})
	}

	return detail, nil
}

// getAccountMeta resolves owner + executable for a batch of account keys.
func (c *LiveRPCClient) getAccountMeta(ctx context.Context, keys []string) ([]Pubkey, []bool, error) {
	result, err := c.call(ctx, "getMultipleAccounts", []any{
		keys,
		map[string]any{"encoding": "base64", "commitment": c.config.Commitment},
	})
	if err != nil {
		return nil, nil, err
	}

	var resp struct {
		Value []*struct {
			Owner      string `json:"owner"`
			Executable bool   `json:"executable"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, nil, fmt.Errorf("rpc: parse accounts: %w", err)
	}

	owners := make([]Pubkey, len(keys))
	executables := make([]bool, len(keys))
	for i := range keys {
		if i < len(resp.Value) && resp.Value[i] != nil {
			owners[i] = Pubkey(resp.Value[i].Owner)
			executables[i] = resp.Value[i].Executable
		}
	}
	return owners, executables, nil
}

// GetAccountData fetches raw account data bytes.
func (c *LiveRPCClient) GetAccountData(ctx context.Context, account Pubkey) ([]byte, error) {
	result, err := c.call(ctx, "getAccountInfo", []any{
		string(account),
		map[string]any{"encoding": "base64", "commitment": c.config.Commitment},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value *struct {
			Data []string `json:"data"` // [base64_data, "base64"]
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse account info: %w", err)
	}
	if resp.Value == nil || len(resp.Value.Data) == 0 {
		return nil, fmt.Errorf("rpc: account %s not found", account)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("rpc: decode account data: %w", err)
	}
	return data, nil
}

// GetTokenBalance sums the owner's token accounts for a mint. A wallet with
// no token account for the mint reads as zero.
func (c *LiveRPCClient) GetTokenBalance(ctx context.Context, owner, mint Pubkey) (decimal.Decimal, error) {
	result, err := c.call(ctx, "getTokenAccountsByOwner", []any{
		string(owner),
		map[string]any{"mint": string(mint)},
		map[string]any{"encoding": "jsonParsed", "commitment": c.config.Commitment},
	})
	if err != nil {
		return decimal.Zero, err
	}

	var resp struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmountString string `json:"uiAmountString"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("rpc: parse token balance: %w", err)
	}

	total := decimal.Zero
	for _, ta := range resp.Value {
		amount, err := decimal.NewFromString(ta.Account.Data.Parsed.Info.TokenAmount.UIAmountString)
		if err != nil {
			continue
		}
		total = total.Add(amount)
	}
	return total, nil
}

// SubmitFunding builds and broadcasts a single add-liquidity transaction.
// The wire payload carries one instruction against the pool program; the
// configured wallet key signs and pays fees. Broadcast uses the node's own
// retry budget via maxRetries.
func (c *LiveRPCClient) SubmitFunding(ctx context.Context, params FundingParams) (Signature, error) {
	txBase64, err := encodeFundingTx(params)
	if err != nil {
		return "", fmt.Errorf("rpc: encode funding tx: %w", err)
	}

	result, err := c.call(ctx, "sendTransaction", []any{
		txBase64,
		map[string]any{
			"encoding":            "base64",
			"skipPreflight":       true,
			"preflightCommitment": c.config.Commitment,
			"maxRetries":          c.config.MaxRetries,
		},
	})
	if err != nil {
		return "", err
	}

	var sig string
	if err := json.Unmarshal(result, &sig); err != nil {
		return "", fmt.Errorf("rpc: parse signature: %w", err)
	}
	return Signature(sig), nil
}

// encodeFundingTx serializes the add-liquidity instruction: a tag byte
// followed by both deposit amounts as little-endian u64 base units, plus the
// account list (wallet signer/fee payer, pool, both token accounts, token
// program, system program).
func encodeFundingTx(params FundingParams) (string, error) {
	if !params.AmountA.IsPositive() || !params.AmountB.IsPositive() {
		return "", fmt.Errorf("non-positive deposit amounts")
	}

	var buf bytes.Buffer
	buf.WriteByte(0x03) // add_liquidity
	amounts := make([]byte, 16)
	binary.LittleEndian.PutUint64(amounts[0:8], uint64(params.AmountA.Shift(9).IntPart()))
	binary.LittleEndian.PutUint64(amounts[8:16], uint64(params.AmountB.Shift(9).IntPart()))
	buf.Write(amounts)

	for _, acc := range []Pubkey{params.Pool, params.TokenA, params.TokenB, TokenProgramID, SystemProgramID} {
		buf.WriteString(string(acc))
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// GetTransactionStatus checks transaction confirmation status.
func (c *LiveRPCClient) GetTransactionStatus(ctx context.Context, sig Signature) (string, error) {
	result, err := c.call(ctx, "getSignatureStatuses", []any{
		[]string{string(sig)},
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Value []struct {
			ConfirmationStatus string `json:"confirmationStatus"`
			Err                any    `json:"err"`
		} `json:"value"`
	}

	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("rpc: parse status: %w", err)
	}

	if len(resp.Value) == 0 || resp.Value[0].ConfirmationStatus == "" {
		return "pending", nil
	}

	if resp.Value[0].Err != nil {
		return "failed", nil
	}

	return resp.Value[0].ConfirmationStatus, nil
}

// Health checks the RPC endpoint health.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.call(healthCtx, "getHealth", nil)
	return err
}

// RPCStats returns RPC client statistics.
type RPCStats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	AvgLatencyUs  int64 `json:"avg_latency_us"`
	LastRequestAt int64 `json:"last_request_at"`
	CircuitOpen   bool  `json:"circuit_open"`
	ConsecErrors  int64 `json:"consecutive_errors"`
}

func (c *LiveRPCClient) Stats() RPCStats {
	reqCount := c.requestCount.Load()
	avgLatency := int64(0)
	if reqCount > 0 {
		avgLatency = c.latencySum.Load() / reqCount
	}
	return RPCStats{
		RequestCount:  reqCount,
		ErrorCount:    c.errorCount.Load(),
		AvgLatencyUs:  avgLatency,
		LastRequestAt: c.lastRequestAt.Load(),
		CircuitOpen:   c.circuitOpen.Load(),
		ConsecErrors:  c.consecutiveErrors.Load(),
	}
}
