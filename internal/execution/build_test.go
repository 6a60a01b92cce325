package execution

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyBps_ComputesBasisPoints(t *testing.T) {
	result := applyBps(big.NewInt(10_000), 50)
	assert.Equal(t, big.NewInt(50), result)
}

func TestApplyBps_ZeroBpsYieldsZero(t *testing.T) {
	result := applyBps(big.NewInt(10_000), 0)
	assert.Equal(t, big.NewInt(0), result)
}

func TestApplyMultiplier_ScalesAmountUp(t *testing.T) {
	result := applyMultiplier(big.NewInt(1000), 1.2)
	assert.Equal(t, big.NewInt(1200), result)
}

func TestApplyMultiplier_Identity(t *testing.T) {
	result := applyMultiplier(big.NewInt(1000), 1.0)
	assert.Equal(t, big.NewInt(1000), result)
}

func TestExecutableTransaction_UniqueIdentifierIsDeterministic(t *testing.T) {
	tx := ExecutableTransaction{
		Calls:    []Call{{To: token, Calldata: buildTransferCalldata(gasTank, big.NewInt(1000)), Value: big.NewInt(0)}},
		GasToken: token,
		UserAddr: otherAddr,
	}

	first := tx.UniqueIdentifier()
	second := tx.UniqueIdentifier()
	assert.Equal(t, first, second)
}

func TestExecutableTransaction_UniqueIdentifierDiffersOnDifferentNonce(t *testing.T) {
	txA := ExecutableTransaction{
		Calls:        []Call{{To: token, Calldata: buildTransferCalldata(gasTank, big.NewInt(1000)), Value: big.NewInt(0)}},
		GasToken:     token,
		UserAddr:     otherAddr,
		MessageNonce: 1,
	}
	txB := ExecutableTransaction{
		Calls:        []Call{{To: token, Calldata: buildTransferCalldata(gasTank, big.NewInt(1000)), Value: big.NewInt(0)}},
		GasToken:     token,
		UserAddr:     otherAddr,
		MessageNonce: 2,
	}

	assert.NotEqual(t, txA.UniqueIdentifier(), txB.UniqueIdentifier())
}

func TestExecutableTransaction_UniqueIdentifierIgnoresCalldata(t *testing.T) {
	txA := ExecutableTransaction{
		Calls:        []Call{{To: token, Calldata: buildTransferCalldata(gasTank, big.NewInt(1000)), Value: big.NewInt(0)}},
		GasToken:     token,
		UserAddr:     otherAddr,
		MessageNonce: 7,
	}
	txB := ExecutableTransaction{
		Calls:        []Call{{To: token, Calldata: buildTransferCalldata(gasTank, big.NewInt(2000)), Value: big.NewInt(0)}},
		GasToken:     token,
		UserAddr:     otherAddr,
		MessageNonce: 7,
	}

	assert.Equal(t, txA.UniqueIdentifier(), txB.UniqueIdentifier())
}
