package execution

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token     = common.HexToAddress("0x00000000000000000000000000000000000001")
	gasTank   = common.HexToAddress("0x00000000000000000000000000000000000002")
	otherAddr = common.HexToAddress("0x00000000000000000000000000000000000003")
)

func TestExtractGasTokenTransfer_HappyPath(t *testing.T) {
	calls := []Call{{To: token, Calldata: buildTransferCalldata(gasTank, big.NewInt(1000))}}

	transfer, err := ExtractGasTokenTransfer(calls)
	require.NoError(t, err)
	assert.Equal(t, token, transfer.Token)
	assert.Equal(t, gasTank, transfer.Recipient)
	assert.Equal(t, big.NewInt(1000), transfer.Amount)
}

func TestExtractGasTokenTransfer_WrongSelector(t *testing.T) {
	data := append([]byte{0xde, 0xad, 0xbe, 0xef}, make([]byte, 64)...)
	calls := []Call{{To: token, Calldata: data}}

	_, err := ExtractGasTokenTransfer(calls)
	assert.ErrorIs(t, err, ErrWrongSelector)
}

func TestExtractGasTokenTransfer_NoCalls(t *testing.T) {
	_, err := ExtractGasTokenTransfer(nil)
	assert.ErrorIs(t, err, ErrNoCalls)
}

func TestExtractGasTokenTransfer_CalldataTooShort(t *testing.T) {
	calls := []Call{{To: token, Calldata: erc20TransferSelector}}

	_, err := ExtractGasTokenTransfer(calls)
	assert.ErrorIs(t, err, ErrCalldataTooShort)
}

func TestValidateGasTokenTransfer_RejectsMismatchedDeclaredToken(t *testing.T) {
	calls := []Call{{To: token, Calldata: buildTransferCalldata(gasTank, big.NewInt(1000))}}

	_, err := ValidateGasTokenTransfer(calls, otherAddr, gasTank)
	assert.ErrorIs(t, err, ErrInvalidGasTokenTransfer)
}

func TestValidateGasTokenTransfer_RejectsWrongRecipient(t *testing.T) {
	calls := []Call{{To: token, Calldata: buildTransferCalldata(otherAddr, big.NewInt(1000))}}

	_, err := ValidateGasTokenTransfer(calls, token, gasTank)
	assert.ErrorIs(t, err, ErrWrongRecipient)
}

func TestValidateGasTokenTransfer_AcceptsMatchingDeclaration(t *testing.T) {
	calls := []Call{{To: token, Calldata: buildTransferCalldata(gasTank, big.NewInt(1000))}}

	transfer, err := ValidateGasTokenTransfer(calls, token, gasTank)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), transfer.Amount)
}
