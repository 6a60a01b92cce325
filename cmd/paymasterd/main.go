package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ChoSanghyuk/paymaster/configs"
	"github.com/ChoSanghyuk/paymaster/internal/availability"
	"github.com/ChoSanghyuk/paymaster/internal/balancemonitor"
	"github.com/ChoSanghyuk/paymaster/internal/chain"
	"github.com/ChoSanghyuk/paymaster/internal/common/service"
	"github.com/ChoSanghyuk/paymaster/internal/execution"
	"github.com/ChoSanghyuk/paymaster/internal/lock"
	lockmemory "github.com/ChoSanghyuk/paymaster/internal/lock/memory"
	lockshared "github.com/ChoSanghyuk/paymaster/internal/lock/shared"
	"github.com/ChoSanghyuk/paymaster/internal/prices"
	"github.com/ChoSanghyuk/paymaster/internal/rebalancing"
	"github.com/ChoSanghyuk/paymaster/internal/relayer"
	"github.com/ChoSanghyuk/paymaster/internal/rpcserver"
	"github.com/ChoSanghyuk/paymaster/internal/secret"
	"github.com/ChoSanghyuk/paymaster/internal/servicelog"
	"github.com/ChoSanghyuk/paymaster/internal/sponsoring"
	"github.com/ChoSanghyuk/paymaster/internal/store"
	"github.com/ChoSanghyuk/paymaster/internal/swap"
	"github.com/ChoSanghyuk/paymaster/internal/txwatcher"
)

const component = "main"

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv("PAYMASTER_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yml"
	}

	cfg, err := configs.LoadConfig(configPath)
	if err != nil {
		servicelog.Errorf(component, "load config: %v", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		servicelog.Errorf(component, "invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	chainClient, err := chain.Dial(ctx, cfg.ToChainConfiguration())
	if err != nil {
		servicelog.Errorf(component, "dial chain: %v", err)
		os.Exit(1)
	}

	relayerCfg, err := cfg.ToRelayerConfiguration(decryptRelayerKey)
	if err != nil {
		servicelog.Errorf(component, "load relayer accounts: %v", err)
		os.Exit(1)
	}

	locks, err := buildLockLayer(ctx, cfg, addressesOf(relayerCfg))
	if err != nil {
		servicelog.Errorf(component, "build lock layer: %v", err)
		os.Exit(1)
	}

	if err := locks.SetEnabledRelayers(ctx, addressesOf(relayerCfg)); err != nil {
		servicelog.Errorf(component, "enable relayers: %v", err)
		os.Exit(1)
	}

	pool := relayer.NewPool(relayerCfg, chainClient, locks)

	priceClient := prices.NewClient(buildPriceConfiguration(cfg, chainClient))

	recorder, err := buildRecorder()
	if err != nil {
		servicelog.Errorf(component, "build transaction recorder: %v", err)
		os.Exit(1)
	}

	buildCfg := cfg.ToBuildConfiguration()
	builder := execution.NewBuilder(buildCfg, chainClient, priceClient)
	executor := execution.NewExecutor(buildCfg, chainClient, priceClient, pool, recorder)

	sponsorClient, err := sponsoring.NewClient(cfg.ToSponsoringConfiguration())
	if err != nil {
		servicelog.Errorf(component, "build sponsoring client: %v", err)
		os.Exit(1)
	}

	manager := service.NewManager(struct{}{})

	rebalancingCfg, err := cfg.ToRebalancingConfiguration()
	if err != nil {
		servicelog.Errorf(component, "build rebalancing config: %v", err)
		os.Exit(1)
	}
	if rebalancingCfg.Enabled {
		var swapper rebalancing.Swapper
		if swapCfg, ok := cfg.ToSwapConfiguration(); ok {
			swapper = swap.NewProvider(swapCfg, chainClient)
		}
		rebalancer := rebalancing.NewService(rebalancingCfg, chainClient, locks, pool, swapper)
		manager.Spawn(ctx, "rebalancing", rebalancingAdapter{rebalancer})
	}

	monitor := balancemonitor.NewService(balancemonitor.Configuration{
		Addresses:         addressesOf(relayerCfg),
		MinRelayerBalance: rebalancingCfg.MinRelayerBalance,
	}, chainClient, pool, locks)
	manager.Spawn(ctx, "balance-monitor", balanceMonitorAdapter{monitor})

	watcher := txwatcher.NewService(chainClient, pool, locks)
	manager.Spawn(ctx, "tx-status-watcher", txWatcherAdapter{watcher})

	gauge := availability.NewService(locks)
	manager.Spawn(ctx, "availability-gauge", availabilityAdapter{gauge})

	server := rpcserver.New(
		cfg.ToRPCServerConfiguration(),
		builder,
		executor,
		chainClient,
		priceClient,
		sponsorClient,
		locks,
		buildCfg.GasTankAddress,
		buildCfg.ForwarderAddress,
	)

	servicelog.Infof(component, "paymaster starting")
	if err := server.Run(ctx); err != nil {
		servicelog.Errorf(component, "rpc server stopped with error: %v", err)
		os.Exit(1)
	}
}

func buildLockLayer(ctx context.Context, cfg *configs.Config, addresses []common.Address) (lock.Layer, error) {
	if cfg.Relayers.LockLayer != "shared" {
		return lockmemory.New(addresses), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Relayers.RedisURL})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return lockshared.New(rdb), nil
}

func addressesOf(cfg relayer.Configuration) []common.Address {
	addrs := make([]common.Address, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		addrs = append(addrs, a.Address)
	}
	return addrs
}

func buildPriceConfiguration(cfg *configs.Config, chainClient *chain.Client) prices.Configuration {
	decimals := prices.NewChainDecimalsResolver(chainClient)

	principal := buildPriceProvider(cfg.Price.Principal, decimals)
	fallbacks := make([]prices.Provider, 0, len(cfg.Price.Fallbacks))
	for _, f := range cfg.Price.Fallbacks {
		fallbacks = append(fallbacks, buildPriceProvider(f, decimals))
	}

	return prices.Configuration{Principal: principal, Fallbacks: fallbacks}
}

func buildPriceProvider(p configs.PriceProviderYAML, decimals prices.DecimalsResolver) prices.Provider {
	switch p.Provider {
	case "coingecko":
		return prices.NewCoingeckoProvider(prices.CoingeckoConfiguration{BaseURL: p.BaseURL, Decimals: decimals})
	default:
		return prices.NewAVNUProvider(prices.AVNUConfiguration{BaseURL: p.BaseURL})
	}
}

func buildRecorder() (store.Recorder, error) {
	dsn := os.Getenv("PAYMASTER_AUDIT_DSN")
	if dsn == "" {
		return store.NoOpRecorder{}, nil
	}
	return store.NewMySQLRecorder(dsn)
}

func decryptRelayerKey(envVar string) (*ecdsa.PrivateKey, error) {
	return secret.Decrypt(envVar, envVar+"_ENC_KEY")
}

// rebalancingAdapter satisfies service.Service[struct{}] - the manager
// shares one context type across every background loop it supervises,
// and rebalancing.Service needs none, so the adapter just ignores it.
type rebalancingAdapter struct {
	svc *rebalancing.Service
}

func (a rebalancingAdapter) Run(ctx context.Context, _ struct{}) error {
	return a.svc.Run(ctx)
}

// balanceMonitorAdapter, txWatcherAdapter and availabilityAdapter exist
// for the same reason as rebalancingAdapter: each wrapped service's
// Run method takes only a context, one short of what
// service.Service[struct{}] requires.
type balanceMonitorAdapter struct {
	svc *balancemonitor.Service
}

func (a balanceMonitorAdapter) Run(ctx context.Context, _ struct{}) error {
	return a.svc.Run(ctx)
}

type txWatcherAdapter struct {
	svc *txwatcher.Service
}

func (a txWatcherAdapter) Run(ctx context.Context, _ struct{}) error {
	return a.svc.Run(ctx)
}

type availabilityAdapter struct {
	svc *availability.Service
}

func (a availabilityAdapter) Run(ctx context.Context, _ struct{}) error {
	return a.svc.Run(ctx)
}
