// Package notify posts pipeline outcomes to a Discord webhook.
// Delivery is best-effort: failures are logged, never propagated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/pool"
	"github.com/rs/zerolog/log"
)

// Embed colors.
const (
	ColorInfo    = 0x3498db
	ColorSuccess = 0x2ecc71
	ColorWarning = 0xf39c12
	ColorError   = 0xe74c3c
)

// Notifier is the outbound notification sink for the pipeline.
type Notifier interface {
	PoolDetected(ctx context.Context, ev pool.Event)
	FundingSucceeded(ctx context.Context, ev pool.Event, res pool.FundingResult)
	FundingFailed(ctx context.Context, ev pool.Event, reason string)
	ListingOutcome(ctx context.Context, ev pool.Event, res pool.ListingResult)
	PipelineError(ctx context.Context, ev pool.Event, err error)
}

// Field is one key/value entry in a webhook embed.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// ---------------------------------------------------------------------------
// Discord webhook notifier
// ---------------------------------------------------------------------------

// DiscordNotifier posts embeds to a Discord webhook URL.
type DiscordNotifier struct {
	webhookURL string
	httpClient *http.Client

	sent   atomic.Int64
	failed atomic.Int64
}

// NewDiscordNotifier creates a webhook notifier. An empty URL yields a
// notifier that only logs (useful for local runs).
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type webhookEmbed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp"`
}

type webhookPayload struct {
	Embeds []webhookEmbed `json:"embeds"`
}

// Send posts one embed. Fire-and-forget: any failure is logged and swallowed.
func (n *DiscordNotifier) Send(ctx context.Context, title, message string, color int, fields []Field) {
	if n.webhookURL == "" {
		log.Debug().Str("title", title).Msg("notify: webhook URL not set, skipping")
		return
	}

	payload := webhookPayload{
		Embeds: []webhookEmbed{{
			Title:       title,
			Description: message,
			Color:       color,
			Fields:      fields,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.failed.Add(1)
		log.Error().Err(err).Msg("notify: marshal payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.failed.Add(1)
		log.Error().Err(err).Msg("notify: create request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.failed.Add(1)
		log.Warn().Err(err).Str("title", title).Msg("notify: webhook post failed")
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.failed.Add(1)
		log.Warn().Int("status", resp.StatusCode).Str("title", title).Msg("notify: webhook rejected")
		return
	}

	n.sent.Add(1)
	log.Debug().Str("title", title).Msg("notify: sent")
}

func (n *DiscordNotifier) PoolDetected(ctx context.Context, ev pool.Event) {
	n.Send(ctx, "New pool detected", "A new liquidity pool was created.", ColorInfo, []Field{
		{Name: "Pool", Value: string(ev.Address)},
		{Name: "Pair", Value: fmt.Sprintf("%s / %s", ev.TokenA, ev.TokenB), Inline: true},
		{Name: "Created", Value: ev.CreatedAt.UTC().Format(time.RFC3339), Inline: true},
	})
}

func (n *DiscordNotifier) FundingSucceeded(ctx context.Context, ev pool.Event, res pool.FundingResult) {
	n.Send(ctx, "Liquidity supplied", "Pre-listing liquidity deposit confirmed.", ColorSuccess, []Field{
		{Name: "Pool", Value: string(ev.Address)},
		{Name: "Amounts", Value: fmt.Sprintf("%s / %s", res.AmountA, res.AmountB), Inline: true},
		{Name: "Transaction", Value: fmt.Sprintf("https://solscan.io/tx/%s", res.Receipt), Inline: true},
	})
}

func (n *DiscordNotifier) FundingFailed(ctx context.Context, ev pool.Event, reason string) {
	n.Send(ctx, "Funding skipped", reason, ColorWarning, []Field{
		{Name: "Pool", Value: string(ev.Address)},
	})
}

func (n *DiscordNotifier) ListingOutcome(ctx context.Context, ev pool.Event, res pool.ListingResult) {
	if res.Listed {
		n.Send(ctx, "Pool visible in UI", "The pool is now served by aggregator UIs.", ColorSuccess, []Field{
			{Name: "Pool", Value: string(ev.Address)},
			{Name: "Platforms", Value: fmt.Sprintf("%v", res.PlatformNames()), Inline: true},
			{Name: "Seconds to list", Value: fmt.Sprintf("%d", res.SecondsToList), Inline: true},
		})
		return
	}
	n.Send(ctx, "Listing poll exhausted", "The pool did not appear within the polling budget.", ColorWarning, []Field{
		{Name: "Pool", Value: string(ev.Address)},
	})
}

func (n *DiscordNotifier) PipelineError(ctx context.Context, ev pool.Event, err error) {
	n.Send(ctx, "Pipeline error", err.Error(), ColorError, []Field{
		{Name: "Pool", Value: string(ev.Address)},
	})
}

// NotifyStats returns delivery counters.
type NotifyStats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

func (n *DiscordNotifier) Stats() NotifyStats {
	return NotifyStats{
		Sent:   n.sent.Load(),
		Failed: n.failed.Load(),
	}
}

// ---------------------------------------------------------------------------
// Nop notifier
// ---------------------------------------------------------------------------

// NopNotifier discards all notifications.
type NopNotifier struct{}

func (NopNotifier) PoolDetected(context.Context, pool.Event)                         {}
func (NopNotifier) FundingSucceeded(context.Context, pool.Event, pool.FundingResult) {}
func (NopNotifier) FundingFailed(context.Context, pool.Event, string)                {}
func (NopNotifier) ListingOutcome(context.Context, pool.Event, pool.ListingResult)   {}
func (NopNotifier) PipelineError(context.Context, pool.Event, error)                 {}
