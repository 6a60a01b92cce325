package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Chain:                  ChainYAML{RPCURL: "http://localhost:8545", ChainID: 1},
		GasTank:                AddressYAML{Address: "0x00000000000000000000000000000000000000aa"},
		Forwarder:              AddressYAML{Address: "0x00000000000000000000000000000000000000bb"},
		SupportedTokens:        []string{"0x00000000000000000000000000000000000000cc"},
		MaxFeeMultiplier:       1.2,
		ProviderFeeOverheadBps: 50,
		Relayers: RelayersYAML{
			Accounts: []RelayerAccountYAML{{PrivateKeyEnv: "RELAYER_0"}},
		},
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsMissingRPCURL(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.RPCURL = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvalidGasTankAddress(t *testing.T) {
	cfg := validConfig()
	cfg.GasTank.Address = "not-an-address"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNoSupportedTokens(t *testing.T) {
	cfg := validConfig()
	cfg.SupportedTokens = nil
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMaxFeeMultiplierBelowOne(t *testing.T) {
	cfg := validConfig()
	cfg.MaxFeeMultiplier = 0.5
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsSharedLockWithoutRedisURL(t *testing.T) {
	cfg := validConfig()
	cfg.Relayers.LockLayer = "shared"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnrecognizedSponsoringMode(t *testing.T) {
	cfg := validConfig()
	cfg.Sponsoring.Mode = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsInconsistentRebalancingThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.Rebalancing.Enabled = true
	cfg.Rebalancing.TriggerBalance = "100"
	cfg.Rebalancing.MinRelayerBalance = "50"
	assert.Error(t, cfg.Validate())
}

func TestToRebalancingConfiguration_DefaultsMissingThresholdsToZero(t *testing.T) {
	cfg := validConfig()
	rebalancingCfg, err := cfg.ToRebalancingConfiguration()
	require.NoError(t, err)
	assert.Equal(t, int64(0), rebalancingCfg.TriggerBalance.Int64())
	assert.Equal(t, int64(0), rebalancingCfg.MinRelayerBalance.Int64())
}

func TestToRebalancingConfiguration_RejectsMalformedTriggerBalance(t *testing.T) {
	cfg := validConfig()
	cfg.Rebalancing.TriggerBalance = "not-a-number"
	_, err := cfg.ToRebalancingConfiguration()
	assert.Error(t, err)
}

func TestToSwapConfiguration_NotOKWhenUnconfigured(t *testing.T) {
	cfg := validConfig()
	_, ok := cfg.ToSwapConfiguration()
	assert.False(t, ok)
}

func TestToSwapConfiguration_BuildsFromSwapYAML(t *testing.T) {
	cfg := validConfig()
	cfg.Swap = SwapYAML{
		Provider:          "avnu",
		QuoteBaseURL:      "https://example.invalid",
		RouterAddress:     "0x000000000000000000000000000000000000dd",
		MaxSlippageBps:    50,
		MaxPriceImpactBps: 100,
		MinUSDSellAmount:  "10",
	}
	swapCfg, ok := cfg.ToSwapConfiguration()
	require.True(t, ok)
	assert.Equal(t, int64(50), swapCfg.SlippageBps)
	assert.Equal(t, int64(100), swapCfg.MaxPriceImpactBps)
}

func TestLoadConfig_ParsesYAMLFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	contents := `
chain:
  rpc_url: http://localhost:8545
  chain_id: 1
gas_tank:
  address: "0x00000000000000000000000000000000000000aa"
forwarder:
  address: "0x00000000000000000000000000000000000000bb"
supported_tokens:
  - "0x00000000000000000000000000000000000000cc"
max_fee_multiplier: 1.1
relayers:
  accounts:
    - private_key_env: "RELAYER_0"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.Chain.RPCURL)
	assert.Equal(t, int64(1), cfg.Chain.ChainID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_AppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("chain:\n  rpc_url: http://original\n"), 0o600))

	t.Setenv("PAYMASTER__CHAIN__RPC_URL", "http://overridden")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://overridden", cfg.Chain.RPCURL)
}
