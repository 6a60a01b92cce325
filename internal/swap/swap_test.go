package swap

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestApplySlippage_ReducesByBasisPoints(t *testing.T) {
	got := applySlippage(big.NewInt(10_000), 100) // 1% slippage
	assert.Equal(t, big.NewInt(9_900), got)
}

func TestApplySlippage_ZeroSlippageIsIdentity(t *testing.T) {
	got := applySlippage(big.NewInt(12_345), 0)
	assert.Equal(t, big.NewInt(12_345), got)
}

func TestLeftPadAddress_ProducesOneWord(t *testing.T) {
	addr := common.HexToAddress("0x000000000000000000000000000000000000aa")
	word := leftPadAddress(addr)
	assert.Len(t, word, wordLen)
	assert.Equal(t, byte(0xaa), word[wordLen-1])
}

func TestLeftPadAmount_ProducesOneWord(t *testing.T) {
	word := leftPadAmount(big.NewInt(256))
	assert.Len(t, word, wordLen)
	assert.Equal(t, byte(1), word[wordLen-2])
	assert.Equal(t, byte(0), word[wordLen-1])
}
