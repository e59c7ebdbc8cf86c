package listing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/pool"
	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEvent = pool.Event{
	Address: "Poo1Addr1111111111111111111111111111111111",
	TokenA:  "MintA1111111111111111111111111111111111111",
	TokenB:  "MintB1111111111111111111111111111111111111",
}

// fakeProbe answers a scripted sequence, repeating the last answer.
type fakeProbe struct {
	name    string
	answers []bool

	mu    sync.Mutex
	calls int
}

func (p *fakeProbe) answer() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	p.calls++
	if idx >= len(p.answers) {
		if len(p.answers) == 0 {
			return false
		}
		idx = len(p.answers) - 1
	}
	return p.answers[idx]
}

func (p *fakeProbe) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProbe) Name() string { return p.name }

func (p *fakeProbe) CheckListed(ctx context.Context, a, b solana.Pubkey) bool {
	return p.answer()
}

// fakePoolProbe adapts fakeProbe to the single-address probe shape.
type fakePoolProbe struct {
	fakeProbe
}

func (p *fakePoolProbe) CheckListed(ctx context.Context, address solana.Pubkey) bool {
	return p.answer()
}

func fastPoller(maxAttempts int, route *fakeProbe, pools *fakePoolProbe) *Poller {
	return NewPoller(Config{
		MaxAttempts: maxAttempts,
		Interval:    10 * time.Millisecond,
	}, route, pools)
}

func TestPollNeverListed(t *testing.T) {
	route := &fakeProbe{name: "Jupiter"}
	pools := &fakePoolProbe{fakeProbe{name: "Meteora"}}

	p := fastPoller(3, route, pools)
	result := p.Poll(context.Background(), testEvent)

	assert.False(t, result.Listed)
	assert.Zero(t, result.SecondsToList)
	// Both probes queried every round.
	assert.Equal(t, 3, route.Calls())
	assert.Equal(t, 3, pools.Calls())
	assert.Equal(t, int64(1), p.Stats().TimedOut)
}

func TestPollMeteoraConfirmsSecondRound(t *testing.T) {
	route := &fakeProbe{name: "Jupiter"}
	pools := &fakePoolProbe{fakeProbe{name: "Meteora", answers: []bool{false, true}}}

	p := NewPoller(Config{
		MaxAttempts: 30,
		Interval:    1 * time.Second,
	}, route, pools)
	result := p.Poll(context.Background(), testEvent)

	require.True(t, result.Listed)
	assert.True(t, result.Platforms["Meteora"])
	assert.False(t, result.Platforms["Jupiter"])
	assert.Equal(t, 2, result.SecondsToList)
	assert.Equal(t, 2, pools.Calls())
	assert.Equal(t, int64(1), p.Stats().Confirmed)
}

func TestPollJupiterAloneConfirms(t *testing.T) {
	route := &fakeProbe{name: "Jupiter", answers: []bool{true}}
	pools := &fakePoolProbe{fakeProbe{name: "Meteora"}}

	p := fastPoller(5, route, pools)
	result := p.Poll(context.Background(), testEvent)

	require.True(t, result.Listed)
	assert.Equal(t, []string{"Jupiter"}, result.PlatformNames())
	// First round confirmed, no further probing.
	assert.Equal(t, 1, route.Calls())
}

func TestPollBothConfirmSameRound(t *testing.T) {
	route := &fakeProbe{name: "Jupiter", answers: []bool{true}}
	pools := &fakePoolProbe{fakeProbe{name: "Meteora", answers: []bool{true}}}

	p := fastPoller(5, route, pools)
	result := p.Poll(context.Background(), testEvent)

	require.True(t, result.Listed)
	assert.Equal(t, []string{"Jupiter", "Meteora"}, result.PlatformNames())
}

func TestPollContextCancellation(t *testing.T) {
	route := &fakeProbe{name: "Jupiter"}
	pools := &fakePoolProbe{fakeProbe{name: "Meteora"}}

	ctx, cancel := context.WithCancel(context.Background())
	p := NewPoller(Config{
		MaxAttempts: 30,
		Interval:    10 * time.Second,
	}, route, pools)

	done := make(chan pool.ListingResult, 1)
	go func() {
		done <- p.Poll(ctx, testEvent)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case result := <-done:
		assert.False(t, result.Listed)
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop on cancellation")
	}

	// An abandoned poll is not a listing timeout.
	assert.Equal(t, int64(1), p.Stats().Cancelled)
	assert.Zero(t, p.Stats().TimedOut)
}
