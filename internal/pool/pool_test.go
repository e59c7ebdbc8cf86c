package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from    PipelineState
		to      PipelineState
		allowed bool
	}{
		{StateDetected, StateFunding, true},
		{StateFunding, StateFunded, true},
		{StateFunding, StateFundingFailed, true},
		{StateFunded, StatePolling, true},
		{StatePolling, StateListedOnJupiter, true},
		{StatePolling, StateListedBoth, true},
		{StatePolling, StateTimedOut, true},

		// No going back, no self loops.
		{StateFunded, StateFunding, false},
		{StatePolling, StateDetected, false},
		{StateFunding, StateFunding, false},

		// Terminal states never transition.
		{StateFundingFailed, StatePolling, false},
		{StateTimedOut, StateDetected, false},
		{StateListedBoth, StateTimedOut, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []PipelineState{
		StateFundingFailed, StateListedOnJupiter, StateListedOnAggregator,
		StateListedBoth, StateTimedOut,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}

	for _, s := range []PipelineState{StateDetected, StateFunding, StateFunded, StatePolling} {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestListingState(t *testing.T) {
	assert.Equal(t, StateListedBoth, ListingState(ListingResult{
		Listed:    true,
		Platforms: map[string]bool{"Jupiter": true, "Meteora": true},
	}))
	assert.Equal(t, StateListedOnJupiter, ListingState(ListingResult{
		Listed:    true,
		Platforms: map[string]bool{"Jupiter": true},
	}))
	assert.Equal(t, StateListedOnAggregator, ListingState(ListingResult{
		Listed:    true,
		Platforms: map[string]bool{"Meteora": true},
	}))
	assert.Equal(t, StateTimedOut, ListingState(ListingResult{}))
}

func TestPlatformNamesStableOrder(t *testing.T) {
	r := ListingResult{Platforms: map[string]bool{"Meteora": true, "Jupiter": true}}
	assert.Equal(t, []string{"Jupiter", "Meteora"}, r.PlatformNames())

	assert.Empty(t, ListingResult{}.PlatformNames())
}
