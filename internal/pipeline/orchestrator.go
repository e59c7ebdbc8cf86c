// Package pipeline coordinates the per-pool run: detect, fund, poll,
// notify. One pipeline per pool address, never two at once.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/poolwatch-trading/poolwatch/internal/decoder"
	"github.com/poolwatch-trading/poolwatch/internal/funding"
	"github.com/poolwatch-trading/poolwatch/internal/listing"
	"github.com/poolwatch-trading/poolwatch/internal/notify"
	"github.com/poolwatch-trading/poolwatch/internal/pool"
	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

// Run is one pool's pipeline execution.
type Run struct {
	ID        string             `json:"id"`
	Event     pool.Event         `json:"event"`
	State     pool.PipelineState `json:"state"`
	StartedAt time.Time          `json:"started_at"`

	cancel context.CancelFunc
	once   sync.Once
}

// Orchestrator owns the in-flight pipeline set. The address map is the
// single-flight guard: an address present in the map has a live
// pipeline, and removal happens on every exit path including panics.
type Orchestrator struct {
	decoder  *decoder.Decoder
	funder   *funding.Funder
	poller   *listing.Poller
	notifier notify.Notifier

	mu     sync.Mutex
	active map[solana.Pubkey]*Run

	onDone func(Run)

	wg sync.WaitGroup

	// Stats.
	eventsSeen     atomic.Int64
	duplicates     atomic.Int64
	pipelinesRun   atomic.Int64
	pipelinesPanic atomic.Int64
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(dec *decoder.Decoder, fun *funding.Funder, pol *listing.Poller, not notify.Notifier) *Orchestrator {
	if not == nil {
		not = notify.NopNotifier{}
	}
	return &Orchestrator{
		decoder:  dec,
		funder:   fun,
		poller:   pol,
		notifier: not,
		active:   make(map[solana.Pubkey]*Run),
	}
}

// SetOnPipelineDone registers a callback invoked with the final run
// snapshot after every pipeline exit. Must be set before Run.
func (o *Orchestrator) SetOnPipelineDone(fn func(Run)) {
	o.onDone = fn
}

// Run consumes log events until the channel closes or the context is
// cancelled, then waits for in-flight pipelines to drain.
func (o *Orchestrator) Run(ctx context.Context, events <-chan solana.LogEvent) {
	log.Info().Msg("pipeline: orchestrator started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("pipeline: context cancelled, draining")
			o.wg.Wait()
			return
		case ev, ok := <-events:
			if !ok {
				log.Info().Msg("pipeline: event stream closed, draining")
				o.wg.Wait()
				return
			}
			o.eventsSeen.Add(1)

			poolEv := o.decoder.Decode(ctx, ev)
			if poolEv == nil {
				continue
			}
			o.OnPoolEvent(ctx, *poolEv)
		}
	}
}

// OnPoolEvent starts a pipeline for the pool unless one is already in
// flight for the same address. Reports whether a pipeline was started.
func (o *Orchestrator) OnPoolEvent(ctx context.Context, ev pool.Event) bool {
	runCtx, cancel := context.WithCancel(ctx)

	run := &Run{
		ID:        uuid.New().String(),
		Event:     ev,
		State:     pool.StateDetected,
		StartedAt: time.Now(),
		cancel:    cancel,
	}

	o.mu.Lock()
	if _, exists := o.active[ev.Address]; exists {
		o.mu.Unlock()
		cancel()
		o.duplicates.Add(1)
		log.Debug().Str("pool", string(ev.Address)).Msg("pipeline: duplicate event ignored")
		return false
	}
	o.active[ev.Address] = run
	o.mu.Unlock()

	o.pipelinesRun.Add(1)
	o.wg.Add(1)
	go o.runPipeline(runCtx, run)
	return true
}

// finish releases the run's single-flight slot exactly once.
func (o *Orchestrator) finish(run *Run) {
	run.once.Do(func() {
		run.cancel()
		o.mu.Lock()
		delete(o.active, run.Event.Address)
		o.mu.Unlock()
		if o.onDone != nil {
			o.onDone(*run)
		}
	})
}

func (o *Orchestrator) runPipeline(ctx context.Context, run *Run) {
	defer o.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			o.pipelinesPanic.Add(1)
			err := fmt.Errorf("pipeline panic: %v", r)
			log.Error().Interface("panic", r).Str("pool", string(run.Event.Address)).
				Msg("pipeline: panic recovered")
			o.notifier.PipelineError(context.Background(), run.Event, err)
		}
		o.finish(run)
	}()

	ev := run.Event
	log.Info().
		Str("run_id", run.ID).
		Str("pool", string(ev.Address)).
		Str("token_a", string(ev.TokenA)).
		Str("token_b", string(ev.TokenB)).
		Msg("pipeline: run started")

	o.notifier.PoolDetected(ctx, ev)

	o.setState(run, pool.StateFunding)
	result, err := o.funder.Fund(ctx, ev)
	if err != nil {
		o.setState(run, pool.StateFundingFailed)
		log.Error().Err(err).Str("pool", string(ev.Address)).Msg("pipeline: funding failed")
		o.notifier.FundingFailed(ctx, ev, err.Error())
		return
	}
	if result == nil {
		o.setState(run, pool.StateFundingFailed)
		o.notifier.FundingFailed(ctx, ev, "no balance available for either pool token")
		return
	}

	o.setState(run, pool.StateFunded)
	o.notifier.FundingSucceeded(ctx, ev, *result)

	o.setState(run, pool.StatePolling)
	listingResult := o.poller.Poll(ctx, ev)

	o.setState(run, pool.ListingState(listingResult))
	o.notifier.ListingOutcome(ctx, ev, listingResult)

	log.Info().
		Str("run_id", run.ID).
		Str("pool", string(ev.Address)).
		Str("state", string(run.State)).
		Dur("elapsed", time.Since(run.StartedAt)).
		Msg("pipeline: run finished")
}

// setState advances the run state, enforcing monotonic transitions.
func (o *Orchestrator) setState(run *Run, next pool.PipelineState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !run.State.CanTransition(next) {
		log.Warn().
			Str("run_id", run.ID).
			Str("from", string(run.State)).
			Str("to", string(next)).
			Msg("pipeline: transition rejected")
		return
	}
	run.State = next
}

// ActiveCount returns the number of in-flight pipelines.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// ActiveRuns returns snapshots of the in-flight pipelines.
func (o *Orchestrator) ActiveRuns() []Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Run, 0, len(o.active))
	for _, run := range o.active {
		out = append(out, Run{
			ID:        run.ID,
			Event:     run.Event,
			State:     run.State,
			StartedAt: run.StartedAt,
		})
	}
	return out
}

// Stats returns orchestrator counters.
type Stats struct {
	EventsSeen     int64 `json:"events_seen"`
	Duplicates     int64 `json:"duplicates"`
	PipelinesRun   int64 `json:"pipelines_run"`
	PipelinesPanic int64 `json:"pipelines_panic"`
	Active         int   `json:"active"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{
		EventsSeen:     o.eventsSeen.Load(),
		Duplicates:     o.duplicates.Load(),
		PipelinesRun:   o.pipelinesRun.Load(),
		PipelinesPanic: o.pipelinesPanic.Load(),
		Active:         o.ActiveCount(),
	}
}
