package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "poolwatch-config-*.yaml")
	require.NoError(t, err)
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	_, err = tmpFile.WriteString(yaml)
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}

func TestLoadConfig(t *testing.T) {
	yaml := `
general:
  instance_id: "test-node"
  dry_run: true
  log_level: "debug"

solana:
  rpc_endpoint: "https://rpc.test.example"
  ws_endpoint: "wss://rpc.test.example"
  commitment: "processed"

watcher:
  program_id: "TestProgram1111111111111111111111111111111"

funding:
  lp_ratio_pct: 50

listing:
  max_attempts: 5
  interval_s: 2
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "test-node", cfg.General.InstanceID)
	assert.True(t, cfg.General.DryRun)
	assert.Equal(t, "debug", cfg.General.LogLevel)
	assert.Equal(t, "https://rpc.test.example", cfg.Solana.RPCEndpoint)
	assert.Equal(t, "processed", cfg.Solana.Commitment)
	assert.Equal(t, "TestProgram1111111111111111111111111111111", cfg.Watcher.ProgramID)
	assert.Equal(t, 50, cfg.Funding.LPRatioPct)
	assert.Equal(t, 5, cfg.Listing.MaxAttempts)
	assert.Equal(t, 2, cfg.Listing.IntervalS)
}

func TestLoadConfigDefaults(t *testing.T) {
	yaml := `
general:
  dry_run: true
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "poolwatch-1", cfg.General.InstanceID)
	assert.Equal(t, "info", cfg.General.LogLevel)
	assert.Equal(t, "json", cfg.General.LogFormat)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.Solana.RPCEndpoint)
	assert.Equal(t, "confirmed", cfg.Solana.Commitment)
	assert.Equal(t, "M2mx93ekt1fmXSVkTrUL9xVFHkmME8HTUi5Cyc5aF7K", cfg.Watcher.ProgramID)
	assert.Equal(t, 80, cfg.Funding.LPRatioPct)
	assert.Equal(t, 30, cfg.Listing.MaxAttempts)
	assert.Equal(t, 10, cfg.Listing.IntervalS)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	os.Setenv("TEST_POOLWATCH_KEY", "base58privatekey")
	defer os.Unsetenv("TEST_POOLWATCH_KEY")

	yaml := `
solana:
  private_key: "${TEST_POOLWATCH_KEY}"
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.Equal(t, "base58privatekey", cfg.Solana.PrivateKey)
}

func TestValidateRequiresCredentials(t *testing.T) {
	yaml := `
general:
  dry_run: false
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private_key")
}

func TestValidateDryRunWithoutCredentials(t *testing.T) {
	yaml := `
general:
  dry_run: true
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadRatio(t *testing.T) {
	yaml := `
general:
  dry_run: true
funding:
  lp_ratio_pct: 150
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lp_ratio_pct")
}

func TestValidateRejectsBadCommitment(t *testing.T) {
	yaml := `
general:
  dry_run: true
solana:
  commitment: "eventual"
`
	cfg, err := Load(writeTempConfig(t, yaml))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commitment")
}
