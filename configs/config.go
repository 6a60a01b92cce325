// Package configs loads and validates the YAML configuration this
// service boots from, then converts it into the per-component
// configuration types each constructor expects.
package configs

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"gopkg.in/yaml.v3"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/execution"
	"github.com/ChoSanghyuk/paymaster/internal/rebalancing"
	"github.com/ChoSanghyuk/paymaster/internal/relayer"
	"github.com/ChoSanghyuk/paymaster/internal/rpcserver"
	"github.com/ChoSanghyuk/paymaster/internal/sponsoring"
	"github.com/ChoSanghyuk/paymaster/internal/swap"
)

// Config is the root of config.yml.
type Config struct {
	RPC                    RPCYAML         `yaml:"rpc"`
	Chain                  ChainYAML       `yaml:"chain"`
	GasTank                AddressYAML     `yaml:"gas_tank"`
	Forwarder              AddressYAML     `yaml:"forwarder"`
	SupportedTokens        []string        `yaml:"supported_tokens"`
	Blacklist              []string        `yaml:"blacklist"`
	MaxFeeMultiplier       float64         `yaml:"max_fee_multiplier"`
	ProviderFeeOverheadBps int64           `yaml:"provider_fee_overhead_bps"`
	Relayers               RelayersYAML    `yaml:"relayers"`
	Rebalancing            RebalancingYAML `yaml:"rebalancing"`
	Price                  PriceYAML       `yaml:"price"`
	Swap                   SwapYAML        `yaml:"swap"`
	Sponsoring             SponsoringYAML  `yaml:"sponsoring"`
	Verbosity              string          `yaml:"verbosity"`
	MonitoringEndpoint     string          `yaml:"monitoring_endpoint"`
}

type RPCYAML struct {
	Port int `yaml:"port"`
}

type ChainYAML struct {
	RPCURL          string   `yaml:"rpc_url"`
	FallbackRPCURLs []string `yaml:"fallback_rpc_urls"`
	ChainID         int64    `yaml:"chain_id"`
}

type AddressYAML struct {
	Address string `yaml:"address"`
}

type RelayersYAML struct {
	LockLayer string               `yaml:"lock_layer"` // "in_process" or "shared"
	RedisURL  string               `yaml:"redis_url"`
	Accounts  []RelayerAccountYAML `yaml:"accounts"`
}

type RelayerAccountYAML struct {
	PrivateKeyEnv string `yaml:"private_key_env"`
}

type RebalancingYAML struct {
	Enabled              bool   `yaml:"enabled"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
	SwapIntervalSeconds  int    `yaml:"swap_interval_seconds"`
	TriggerBalance       string `yaml:"trigger_balance"`
	MinRelayerBalance    string `yaml:"min_relayer_balance"`
}

type PriceYAML struct {
	Principal PriceProviderYAML   `yaml:"principal"`
	Fallbacks []PriceProviderYAML `yaml:"fallbacks"`
}

type PriceProviderYAML struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
}

type SwapYAML struct {
	Provider          string `yaml:"provider"`
	QuoteBaseURL      string `yaml:"quote_base_url"`
	RouterAddress     string `yaml:"router_address"`
	MaxSlippageBps    int64  `yaml:"max_slippage_bps"`
	MaxPriceImpactBps int64  `yaml:"max_price_impact_bps"`
	MinUSDSellAmount  string `yaml:"min_usd_sell_amount"`
}

type SponsoringYAML struct {
	Mode       string `yaml:"mode"`
	APIKey     string `yaml:"api_key"`
	WebhookURL string `yaml:"webhook_url"`
}

// LoadConfig reads and parses config.yml, then applies any
// PAYMASTER__<SECTION>__<FIELD> environment overrides on top of it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("configs: parse config YAML: %w", err)
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

const envOverridePrefix = "PAYMASTER__"

// applyEnvOverrides supports a narrow, explicitly-named set of
// dotted-path overrides rather than full reflection-based binding,
// matching the reference service's environment-override surface.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envOverridePrefix + "CHAIN__RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv(envOverridePrefix + "CHAIN__CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = n
		}
	}
	if v := os.Getenv(envOverridePrefix + "RPC__PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPC.Port = n
		}
	}
	if v := os.Getenv(envOverridePrefix + "RELAYERS__REDIS_URL"); v != "" {
		cfg.Relayers.RedisURL = v
	}
	if v := os.Getenv(envOverridePrefix + "SPONSORING__API_KEY"); v != "" {
		cfg.Sponsoring.APIKey = v
	}
	if v := os.Getenv(envOverridePrefix + "VERBOSITY"); v != "" {
		cfg.Verbosity = v
	}
}

// Validate enforces every startup invariant this service depends on.
// REDESIGN: replaces the reference implementation's runtime
// panic("no rebalancing configuration") with a plain error returned
// before any listener starts; see internal/rebalancing.Configuration.Validate
// for the rebalancing-specific checks this delegates to.
func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("configs: chain.rpc_url is required")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("configs: chain.chain_id is required")
	}
	if !common.IsHexAddress(c.GasTank.Address) {
		return fmt.Errorf("configs: gas_tank.address is not a valid address")
	}
	if !common.IsHexAddress(c.Forwarder.Address) {
		return fmt.Errorf("configs: forwarder.address is not a valid address")
	}
	if len(c.SupportedTokens) == 0 {
		return fmt.Errorf("configs: supported_tokens must list at least one token")
	}
	if c.MaxFeeMultiplier < 1.0 {
		return fmt.Errorf("configs: max_fee_multiplier must be >= 1.0")
	}
	if len(c.Relayers.Accounts) == 0 {
		return fmt.Errorf("configs: relayers.accounts must list at least one account")
	}
	if c.Relayers.LockLayer == "shared" && c.Relayers.RedisURL == "" {
		return fmt.Errorf("configs: relayers.redis_url is required when lock_layer is \"shared\"")
	}

	rebalancingCfg, err := c.ToRebalancingConfiguration()
	if err != nil {
		return err
	}
	if err := rebalancingCfg.Validate(); err != nil {
		return err
	}

	switch sponsoring.Mode(c.Sponsoring.Mode) {
	case sponsoring.ModeNone, sponsoring.ModeSelf, sponsoring.ModeWebhook, "":
	default:
		return fmt.Errorf("configs: sponsoring.mode %q is not recognized", c.Sponsoring.Mode)
	}

	return nil
}

func (c *Config) ToChainConfiguration() chain.Configuration {
	return chain.Configuration{
		RPCURL:       c.Chain.RPCURL,
		FallbackURLs: c.Chain.FallbackRPCURLs,
		ChainID:      big.NewInt(c.Chain.ChainID),
	}
}

func (c *Config) ToBuildConfiguration() execution.BuildConfiguration {
	supported := make(map[common.Address]bool, len(c.SupportedTokens))
	for _, t := range c.SupportedTokens {
		supported[common.HexToAddress(t)] = true
	}
	return execution.BuildConfiguration{
		SupportedTokens:     supported,
		ForwarderAddress:    common.HexToAddress(c.Forwarder.Address),
		GasTankAddress:      common.HexToAddress(c.GasTank.Address),
		MaxFeeMultiplier:    c.MaxFeeMultiplier,
		ProviderOverheadBps: c.ProviderFeeOverheadBps,
		ChainID:             big.NewInt(c.Chain.ChainID),
	}
}

// ToRelayerConfiguration decrypts each configured account's private key
// (via the supplied decrypt func, normally internal/secret.Decrypt) and
// returns the pool configuration.
func (c *Config) ToRelayerConfiguration(decrypt func(envVar string) (*ecdsa.PrivateKey, error)) (relayer.Configuration, error) {
	accounts := make([]relayer.Account, 0, len(c.Relayers.Accounts))
	for _, a := range c.Relayers.Accounts {
		key, err := decrypt(a.PrivateKeyEnv)
		if err != nil {
			return relayer.Configuration{}, fmt.Errorf("configs: decrypt relayer key %s: %w", a.PrivateKeyEnv, err)
		}
		accounts = append(accounts, relayer.Account{
			Address:    crypto.PubkeyToAddress(key.PublicKey),
			PrivateKey: key,
		})
	}
	return relayer.Configuration{Accounts: accounts}, nil
}

func (c *Config) ToRebalancingConfiguration() (rebalancing.Configuration, error) {
	trigger, ok := new(big.Int).SetString(defaultIfEmpty(c.Rebalancing.TriggerBalance, "0"), 10)
	if !ok {
		return rebalancing.Configuration{}, fmt.Errorf("configs: rebalancing.trigger_balance is not a valid integer")
	}
	minBalance, ok := new(big.Int).SetString(defaultIfEmpty(c.Rebalancing.MinRelayerBalance, "0"), 10)
	if !ok {
		return rebalancing.Configuration{}, fmt.Errorf("configs: rebalancing.min_relayer_balance is not a valid integer")
	}

	tokens := make([]common.Address, 0, len(c.SupportedTokens))
	for _, t := range c.SupportedTokens {
		tokens = append(tokens, common.HexToAddress(t))
	}

	return rebalancing.Configuration{
		Enabled:           c.Rebalancing.Enabled,
		CheckInterval:     secondsOrDefault(c.Rebalancing.CheckIntervalSeconds, 60),
		SwapInterval:      secondsOrDefault(c.Rebalancing.SwapIntervalSeconds, 900),
		TriggerBalance:    trigger,
		MinRelayerBalance: minBalance,
		GasTankAddress:    common.HexToAddress(c.GasTank.Address),
		SwapTokens:        tokens,
	}, nil
}

// ToSwapConfiguration builds the swap.Provider configuration, or
// returns ok=false if no swap provider is configured (the rebalancing
// loop then runs with a nil Swapper and skips the swap step entirely).
func (c *Config) ToSwapConfiguration() (swap.Configuration, bool) {
	if c.Swap.Provider == "" {
		return swap.Configuration{}, false
	}

	minUSD, _ := new(big.Int).SetString(defaultIfEmpty(c.Swap.MinUSDSellAmount, "0"), 10)

	return swap.Configuration{
		QuoteBaseURL:      c.Swap.QuoteBaseURL,
		RouterAddress:     common.HexToAddress(c.Swap.RouterAddress),
		Recipient:         common.HexToAddress(c.GasTank.Address),
		MaxPriceImpactBps: c.Swap.MaxPriceImpactBps,
		MinUSDSellAmount:  minUSD,
		SlippageBps:       c.Swap.MaxSlippageBps,
	}, true
}

func (c *Config) ToSponsoringConfiguration() sponsoring.Configuration {
	return sponsoring.Configuration{
		Mode:       sponsoring.Mode(c.Sponsoring.Mode),
		APIKey:     c.Sponsoring.APIKey,
		WebhookURL: c.Sponsoring.WebhookURL,
	}
}

func (c *Config) ToRPCServerConfiguration() rpcserver.Configuration {
	tokens := make([]common.Address, 0, len(c.SupportedTokens))
	for _, t := range c.SupportedTokens {
		tokens = append(tokens, common.HexToAddress(t))
	}
	blacklist := make([]common.Address, 0, len(c.Blacklist))
	for _, b := range c.Blacklist {
		blacklist = append(blacklist, common.HexToAddress(b))
	}
	return rpcserver.Configuration{
		ListenAddr:           fmt.Sprintf(":%d", c.RPC.Port),
		SupportedTokens:      tokens,
		BlacklistedAddresses: blacklist,
	}
}

func defaultIfEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func secondsOrDefault(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}
