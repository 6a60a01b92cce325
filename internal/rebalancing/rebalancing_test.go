package rebalancing

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestConfiguration_Validate_DisabledSkipsChecks(t *testing.T) {
	cfg := Configuration{Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestConfiguration_Validate_RejectsSwapFasterThanCheck(t *testing.T) {
	cfg := Configuration{
		Enabled:           true,
		CheckInterval:     time.Minute,
		SwapInterval:      30 * time.Second,
		TriggerBalance:    big.NewInt(1),
		MinRelayerBalance: big.NewInt(2),
	}
	assert.Error(t, cfg.Validate())
}

func TestConfiguration_Validate_RejectsTriggerAboveMin(t *testing.T) {
	cfg := Configuration{
		Enabled:           true,
		CheckInterval:     time.Minute,
		SwapInterval:      time.Hour,
		TriggerBalance:    big.NewInt(10),
		MinRelayerBalance: big.NewInt(5),
	}
	assert.Error(t, cfg.Validate())
}

func TestConfiguration_Validate_AcceptsWellFormed(t *testing.T) {
	cfg := Configuration{
		Enabled:           true,
		CheckInterval:     time.Minute,
		SwapInterval:      time.Hour,
		TriggerBalance:    big.NewInt(5),
		MinRelayerBalance: big.NewInt(10),
	}
	assert.NoError(t, cfg.Validate())
}

func TestAnyBelowTrigger_TrueWhenOneRelayerLow(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(100),
		{2}: big.NewInt(1),
	}
	assert.True(t, anyBelowTrigger(balances, big.NewInt(50)))
}

func TestAnyBelowTrigger_FalseWhenAllHealthy(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(100),
		{2}: big.NewInt(90),
	}
	assert.False(t, anyBelowTrigger(balances, big.NewInt(50)))
}

func TestCalculateOptimalTargetBalance_SufficientFundsReachesMin(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(0),
		{2}: big.NewInt(0),
	}
	minBalance := big.NewInt(100)
	available := big.NewInt(1_000) // plenty

	target := calculateOptimalTargetBalance(balances, available, minBalance)
	assert.Equal(t, 0, target.Cmp(minBalance))
}

func TestCalculateOptimalTargetBalance_InsufficientFundsSharesProRata(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(0),
		{2}: big.NewInt(0),
	}
	minBalance := big.NewInt(100)
	available := big.NewInt(60) // only enough for 30 each

	target := calculateOptimalTargetBalance(balances, available, minBalance)
	assert.True(t, target.Cmp(minBalance) < 0)
	total := totalTopUp(balances, target)
	assert.True(t, total.Cmp(available) <= 0)
}

func TestCalculateOptimalTargetBalance_IgnoresRelayersAlreadyAboveTarget(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(90),
		{2}: big.NewInt(0),
	}
	minBalance := big.NewInt(100)
	available := big.NewInt(1_000)

	target := calculateOptimalTargetBalance(balances, available, minBalance)
	assert.Equal(t, 0, target.Cmp(minBalance))
}

func TestTotalTopUp_SumsOnlyDeficits(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(40),
		{2}: big.NewInt(60),
	}
	total := totalTopUp(balances, big.NewInt(50))
	assert.Equal(t, big.NewInt(10), total)
}
