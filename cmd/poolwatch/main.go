package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/poolwatch-trading/poolwatch/internal/adapters/jupiter"
	"github.com/poolwatch-trading/poolwatch/internal/adapters/meteora"
	"github.com/poolwatch-trading/poolwatch/internal/config"
	"github.com/poolwatch-trading/poolwatch/internal/decoder"
	"github.com/poolwatch-trading/poolwatch/internal/funding"
	"github.com/poolwatch-trading/poolwatch/internal/listing"
	"github.com/poolwatch-trading/poolwatch/internal/notify"
	"github.com/poolwatch-trading/poolwatch/internal/observability"
	"github.com/poolwatch-trading/poolwatch/internal/pipeline"
	"github.com/poolwatch-trading/poolwatch/internal/pool"
	"github.com/poolwatch-trading/poolwatch/internal/solana"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub RPC (no real Solana connection)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("poolwatch - Meteora UI-delay watcher")
	log.Info().Msg("DETECT -> FUND -> POLL -> MEASURE")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", cfg.General.DryRun).
		Bool("stub_mode", *stubMode).
		Str("program", cfg.Watcher.ProgramID).
		Int("lp_ratio_pct", cfg.Funding.LPRatioPct).
		Int("poll_attempts", cfg.Listing.MaxAttempts).
		Int("poll_interval_s", cfg.Listing.IntervalS).
		Msg("Configuration loaded")

	// 3b. Validate configuration. Missing credentials are fatal here,
	// not at funding time.
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	// 4. Create Solana RPC client.
	var rpc solana.RPCClient
	var liveRPC *solana.LiveRPCClient
	if *stubMode {
		rpc = solana.NewStubRPCClient()
		log.Info().Msg("Solana RPC: STUB mode")
	} else {
		rpcConfig := solana.RPCConfig{
			Endpoint:     cfg.Solana.RPCEndpoint,
			WSEndpoint:   cfg.Solana.WSEndpoint,
			Commitment:   cfg.Solana.Commitment,
			Timeout:      10 * time.Second,
			MaxRetries:   3,
			RateLimitRPS: cfg.Solana.RateLimitRPS,
			PrivateKey:   cfg.Solana.PrivateKey,
		}
		liveRPC = solana.NewLiveRPCClient(rpcConfig)
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Solana.RPCEndpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Solana.RPCEndpoint).Msg("Solana RPC: LIVE - connected")
		}
		healthCancel()
	}

	// 5. Create log monitor.
	monitor := solana.NewLogMonitor(solana.MonitorConfig{
		WSEndpoint:       cfg.Solana.WSEndpoint,
		ProgramID:        cfg.Watcher.ProgramID,
		Commitment:       cfg.Solana.Commitment,
		ReconnectDelayMs: cfg.Watcher.ReconnectDelayMs,
		PingIntervalS:    cfg.Watcher.PingIntervalS,
	})

	// 6. Create pipeline stages.
	dec := decoder.New(rpc, solana.Pubkey(cfg.Watcher.ProgramID))

	funder := funding.NewFunder(funding.Config{
		LPRatioPct:        cfg.Funding.LPRatioPct,
		ConfirmAttempts:   cfg.Funding.ConfirmAttempts,
		ConfirmIntervalMs: cfg.Funding.ConfirmIntervalMs,
		DryRun:            cfg.General.DryRun,
		Wallet:            cfg.Solana.WalletPubkey,
	}, rpc)

	jupiterClient := jupiter.NewClient(jupiter.Config{
		QuoteURL: cfg.Listing.JupiterURL,
	})
	meteoraClient := meteora.NewClient(meteora.Config{
		BaseURL: cfg.Listing.MeteoraBaseURL,
	})
	poller := listing.NewPoller(listing.Config{
		MaxAttempts: cfg.Listing.MaxAttempts,
		Interval:    time.Duration(cfg.Listing.IntervalS) * time.Second,
	}, jupiterClient, meteoraClient)

	notifier := notify.NewDiscordNotifier(cfg.Notify.WebhookURL)
	if cfg.Notify.WebhookURL == "" {
		log.Warn().Msg("notify.webhook_url not set, notifications log-only")
	}

	// 7. Create orchestrator and metrics.
	registry := observability.WatcherMetrics()
	secondsToList := registry.NewHistogram("poolwatch_seconds_to_list",
		"Delay between creation and UI visibility in seconds", observability.SecondsToListBuckets)

	orch := pipeline.NewOrchestrator(dec, funder, poller, notifier)

	// Listing delay samples feed the histogram as pipelines finish.
	orch.SetOnPipelineDone(func(run pipeline.Run) {
		if run.State == pool.StateListedOnJupiter ||
			run.State == pool.StateListedOnAggregator ||
			run.State == pool.StateListedBoth {
			secondsToList.Observe(time.Since(run.StartedAt).Seconds())
		}
		log.Info().
			Str("run_id", run.ID).
			Str("pool", string(run.Event.Address)).
			Str("final_state", string(run.State)).
			Dur("elapsed", time.Since(run.StartedAt)).
			Msg("Pipeline done")
	})

	healthMonitor := observability.NewHealthMonitor()
	healthMonitor.Register("rpc", func(ctx context.Context) observability.ComponentHealth {
		if err := rpc.Health(ctx); err != nil {
			return observability.ComponentHealth{Status: observability.StatusUnhealthy, Message: err.Error()}
		}
		return observability.ComponentHealth{Status: observability.StatusHealthy}
	})
	healthMonitor.Register("monitor", func(ctx context.Context) observability.ComponentHealth {
		switch monitor.State() {
		case solana.StateConnected:
			return observability.ComponentHealth{Status: observability.StatusHealthy}
		case solana.StateReconnecting:
			return observability.ComponentHealth{Status: observability.StatusDegraded, Message: "reconnecting"}
		default:
			return observability.ComponentHealth{Status: observability.StatusUnhealthy, Message: "stopped"}
		}
	})

	// 8. Setup context and signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 9. Start services.
	var wg sync.WaitGroup

	events, err := monitor.Start(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start log monitor")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		orch.Run(ctx, events)
	}()

	// HTTP health + stats + metrics endpoint.
	wg.Add(1)
	go func() {
		defer wg.Done()
		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			checkCtx, checkCancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer checkCancel()
			health := healthMonitor.Check(checkCtx)
			w.Header().Set("Content-Type", "application/json")
			if health.Status == observability.StatusUnhealthy {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			json.NewEncoder(w).Encode(health)
		})

		mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
			combined := map[string]any{
				"monitor":  monitor.Stats(),
				"decoder":  dec.Stats(),
				"funding":  funder.Stats(),
				"listing":  poller.Stats(),
				"pipeline": orch.Stats(),
				"jupiter":  jupiterClient.Stats(),
				"meteora":  meteoraClient.Stats(),
				"notify":   notifier.Stats(),
				"dry_run":  cfg.General.DryRun,
			}
			if liveRPC != nil {
				combined["rpc"] = liveRPC.Stats()
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(combined)
		})

		mux.Handle("/metrics", observability.NewPrometheusExporter(registry))

		addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		log.Info().Str("addr", addr).Msg("HTTP server started (health + stats + metrics)")

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()

		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Error().Err(srvErr).Msg("HTTP server error")
		}
	}()

	// Periodic stats logging and metric mirroring.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ms := monitor.Stats()
				ds := dec.Stats()
				fs := funder.Stats()
				ls := poller.Stats()
				ps := orch.Stats()

				registry.GetCounter("poolwatch_ws_events_total").Set(ms.EventsEmitted)
				registry.GetCounter("poolwatch_ws_reconnects_total").Set(ms.Reconnects)
				registry.GetCounter("poolwatch_pools_detected_total").Set(ds.Decoded)
				registry.GetCounter("poolwatch_pipelines_total").Set(ps.PipelinesRun)
				registry.GetCounter("poolwatch_pipelines_duplicate_total").Set(ps.Duplicates)
				registry.GetCounter("poolwatch_fundings_total").Set(fs.Funded + fs.DryFunded)
				registry.GetCounter("poolwatch_fundings_skipped_total").Set(fs.Skipped)
				registry.GetCounter("poolwatch_fundings_failed_total").Set(fs.Failed)
				registry.GetCounter("poolwatch_listings_confirmed_total").Set(ls.Confirmed)
				registry.GetCounter("poolwatch_listings_timeout_total").Set(ls.TimedOut)
				registry.GetGauge("poolwatch_pipelines_active").Set(float64(ps.Active))

				log.Info().
					Str("ws_state", string(ms.State)).
					Int64("ws_events", ms.EventsEmitted).
					Int64("ws_reconnects", ms.Reconnects).
					Int64("pools_decoded", ds.Decoded).
					Int64("fundings", fs.Funded+fs.DryFunded).
					Int64("listings_confirmed", ls.Confirmed).
					Int64("listings_timeout", ls.TimedOut).
					Int("active_pipelines", ps.Active).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("poolwatch - Running")
	log.Info().Msg("Monitoring for new Meteora pools...")

	// 10. Block until shutdown.
	<-ctx.Done()

	// 11. Graceful shutdown: stop the subscription first, then drain.
	log.Info().Msg("Shutting down...")
	monitor.Stop()
	wg.Wait()

	// Final stats.
	ms := monitor.Stats()
	ds := dec.Stats()
	fs := funder.Stats()
	ls := poller.Stats()
	log.Info().
		Int64("ws_events", ms.EventsEmitted).
		Int64("pools_decoded", ds.Decoded).
		Int64("fundings", fs.Funded+fs.DryFunded).
		Int64("fundings_skipped", fs.Skipped).
		Int64("listings_confirmed", ls.Confirmed).
		Int64("listings_timeout", ls.TimedOut).
		Msg("poolwatch - Final Statistics")

	log.Info().Msg("poolwatch - Shutdown complete")
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "poolwatch").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "poolwatch").
			Str("instance", general.InstanceID).Logger()
	}
}
