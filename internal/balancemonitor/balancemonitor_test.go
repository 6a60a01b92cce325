package balancemonitor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestPartitionEnabled_KeepsOnlyAboveFloor(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(100),
		{2}: big.NewInt(1),
		{3}: big.NewInt(50),
	}
	enabled := partitionEnabled(balances, big.NewInt(10))

	assert.Len(t, enabled, 2)
	assert.Contains(t, enabled, common.Address{1})
	assert.Contains(t, enabled, common.Address{3})
	assert.NotContains(t, enabled, common.Address{2})
}

func TestPartitionEnabled_EmptyWhenAllBelowFloor(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(1),
		{2}: big.NewInt(2),
	}
	assert.Empty(t, partitionEnabled(balances, big.NewInt(10)))
}

func TestPartitionEnabled_ExactlyAtFloorIsExcluded(t *testing.T) {
	balances := map[common.Address]*big.Int{
		{1}: big.NewInt(10),
	}
	assert.Empty(t, partitionEnabled(balances, big.NewInt(10)))
}
