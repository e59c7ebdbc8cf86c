package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for poolwatch.
type Config struct {
	General GeneralConfig `yaml:"general"`
	Solana  SolanaConfig  `yaml:"solana"`
	Watcher WatcherConfig `yaml:"watcher"`
	Funding FundingConfig `yaml:"funding"`
	Listing ListingConfig `yaml:"listing"`
	Notify  NotifyConfig  `yaml:"notify"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	DryRun     bool   `yaml:"dry_run"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
}

type SolanaConfig struct {
	RPCEndpoint  string  `yaml:"rpc_endpoint"`
	WSEndpoint   string  `yaml:"ws_endpoint"`
	Commitment   string  `yaml:"commitment"` // processed|confirmed|finalized
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	WalletPubkey string  `yaml:"wallet_pubkey"`
	PrivateKey   string  `yaml:"private_key"` // base58, usually ${WALLET_PRIVATE_KEY}
}

type WatcherConfig struct {
	ProgramID        string `yaml:"program_id"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
}

type FundingConfig struct {
	LPRatioPct        int `yaml:"lp_ratio_pct"`
	ConfirmAttempts   int `yaml:"confirm_attempts"`
	ConfirmIntervalMs int `yaml:"confirm_interval_ms"`
}

type ListingConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	IntervalS      int    `yaml:"interval_s"`
	JupiterURL     string `yaml:"jupiter_url"`
	MeteoraBaseURL string `yaml:"meteora_base_url"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"` // usually ${DISCORD_WEBHOOK_URL}
}

type MetricsConfig struct {
	Port    int  `yaml:"port"`
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "poolwatch-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "json"
	}
	if cfg.Solana.RPCEndpoint == "" {
		cfg.Solana.RPCEndpoint = "https://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.WSEndpoint == "" {
		cfg.Solana.WSEndpoint = "wss://api.mainnet-beta.solana.com"
	}
	if cfg.Solana.Commitment == "" {
		cfg.Solana.Commitment = "confirmed"
	}
	if cfg.Solana.RateLimitRPS == 0 {
		cfg.Solana.RateLimitRPS = 10
	}
	if cfg.Watcher.ProgramID == "" {
		cfg.Watcher.ProgramID = "M2mx93ekt1fmXSVkTrUL9xVFHkmME8HTUi5Cyc5aF7K"
	}
	if cfg.Watcher.ReconnectDelayMs == 0 {
		cfg.Watcher.ReconnectDelayMs = 5000
	}
	if cfg.Watcher.PingIntervalS == 0 {
		cfg.Watcher.PingIntervalS = 30
	}
	if cfg.Funding.LPRatioPct == 0 {
		cfg.Funding.LPRatioPct = 80
	}
	if cfg.Funding.ConfirmAttempts == 0 {
		cfg.Funding.ConfirmAttempts = 30
	}
	if cfg.Funding.ConfirmIntervalMs == 0 {
		cfg.Funding.ConfirmIntervalMs = 1000
	}
	if cfg.Listing.MaxAttempts == 0 {
		cfg.Listing.MaxAttempts = 30
	}
	if cfg.Listing.IntervalS == 0 {
		cfg.Listing.IntervalS = 10
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// Validate rejects configurations the process cannot run with. Called
// once at startup; a failure here is fatal.
func (cfg *Config) Validate() error {
	if !cfg.General.DryRun && cfg.Solana.PrivateKey == "" {
		return fmt.Errorf("solana.private_key is required outside dry-run mode")
	}
	if !cfg.General.DryRun && cfg.Solana.WalletPubkey == "" {
		return fmt.Errorf("solana.wallet_pubkey is required outside dry-run mode")
	}
	if cfg.Funding.LPRatioPct < 0 || cfg.Funding.LPRatioPct > 100 {
		return fmt.Errorf("funding.lp_ratio_pct must be within [0,100], got %d", cfg.Funding.LPRatioPct)
	}
	switch cfg.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("solana.commitment must be processed, confirmed or finalized, got %q", cfg.Solana.Commitment)
	}
	return nil
}
