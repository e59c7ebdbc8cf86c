package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/pool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEvent = pool.Event{
	Address:   "Poo1Addr1111111111111111111111111111111111",
	TokenA:    "MintA1111111111111111111111111111111111111",
	TokenB:    "MintB1111111111111111111111111111111111111",
	CreatedAt: time.Unix(1700000000, 0),
}

type capturedWebhook struct {
	mu       sync.Mutex
	payloads []webhookPayload
}

func (c *capturedWebhook) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload webhookPayload
		json.Unmarshal(body, &payload)
		c.mu.Lock()
		c.payloads = append(c.payloads, payload)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (c *capturedWebhook) last(t *testing.T) webhookEmbed {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.payloads)
	payload := c.payloads[len(c.payloads)-1]
	require.Len(t, payload.Embeds, 1)
	return payload.Embeds[0]
}

func TestPoolDetectedEmbed(t *testing.T) {
	captured := &capturedWebhook{}
	server := httptest.NewServer(captured.handler())
	defer server.Close()

	n := NewDiscordNotifier(server.URL)
	n.PoolDetected(context.Background(), testEvent)

	embed := captured.last(t)
	assert.Equal(t, "New pool detected", embed.Title)
	assert.Equal(t, ColorInfo, embed.Color)
	assert.NotEmpty(t, embed.Timestamp)

	require.GreaterOrEqual(t, len(embed.Fields), 2)
	assert.Equal(t, "Pool", embed.Fields[0].Name)
	assert.Equal(t, string(testEvent.Address), embed.Fields[0].Value)

	assert.Equal(t, int64(1), n.Stats().Sent)
}

func TestFundingSucceededEmbed(t *testing.T) {
	captured := &capturedWebhook{}
	server := httptest.NewServer(captured.handler())
	defer server.Close()

	n := NewDiscordNotifier(server.URL)
	n.FundingSucceeded(context.Background(), testEvent, pool.FundingResult{
		Receipt: "sig-funded",
		AmountA: decimal.NewFromInt(80),
		AmountB: decimal.NewFromInt(40),
	})

	embed := captured.last(t)
	assert.Equal(t, ColorSuccess, embed.Color)
	assert.Contains(t, embed.Fields[1].Value, "80")
	assert.Contains(t, embed.Fields[2].Value, "sig-funded")
}

func TestListingOutcomeEmbeds(t *testing.T) {
	captured := &capturedWebhook{}
	server := httptest.NewServer(captured.handler())
	defer server.Close()

	n := NewDiscordNotifier(server.URL)

	t.Run("confirmed", func(t *testing.T) {
		n.ListingOutcome(context.Background(), testEvent, pool.ListingResult{
			Listed:        true,
			Platforms:     map[string]bool{"Meteora": true},
			SecondsToList: 20,
		})
		embed := captured.last(t)
		assert.Equal(t, ColorSuccess, embed.Color)
		assert.Contains(t, embed.Fields[1].Value, "Meteora")
		assert.Equal(t, "20", embed.Fields[2].Value)
	})

	t.Run("timed out", func(t *testing.T) {
		n.ListingOutcome(context.Background(), testEvent, pool.ListingResult{})
		embed := captured.last(t)
		assert.Equal(t, ColorWarning, embed.Color)
	})
}

func TestSendSwallowsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	n := NewDiscordNotifier(server.URL)
	n.PipelineError(context.Background(), testEvent, assert.AnError)

	assert.Equal(t, int64(1), n.Stats().Failed)
	assert.Zero(t, n.Stats().Sent)
}

func TestSendWithoutWebhookURL(t *testing.T) {
	n := NewDiscordNotifier("")
	n.PoolDetected(context.Background(), testEvent)
	assert.Zero(t, n.Stats().Sent)
	assert.Zero(t, n.Stats().Failed)
}
