package execution

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// erc20TransferSelector is the 4-byte selector of `transfer(address,uint256)`.
var erc20TransferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

const (
	selectorLen = 4
	wordLen     = 32
	minTransferCalldataLen = selectorLen + 2*wordLen
)

// GasTokenTransfer is what ExtractGasTokenTransfer recovers from a raw
// call: the token contract being called, the recipient and the amount.
type GasTokenTransfer struct {
	Token     common.Address
	Recipient common.Address
	Amount    *big.Int
}

// ExtractGasTokenTransfer walks the last call of a raw call array and
// decodes it as an ERC-20 transfer, used both to discover what token a
// RawInvoke actually pays fees in and to validate that declaration
// against the request's stated gas_token (see SPEC_FULL.md §7, open
// question 1).
func ExtractGasTokenTransfer(calls []Call) (GasTokenTransfer, error) {
	if len(calls) == 0 {
		return GasTokenTransfer{}, ErrNoCalls
	}

	last := calls[len(calls)-1]
	data := last.Calldata

	if len(data) < minTransferCalldataLen {
		return GasTokenTransfer{}, ErrCalldataTooShort
	}

	selector := data[:selectorLen]
	for i := range selector {
		if selector[i] != erc20TransferSelector[i] {
			return GasTokenTransfer{}, ErrWrongSelector
		}
	}

	recipientWord := data[selectorLen : selectorLen+wordLen]
	recipient := common.BytesToAddress(recipientWord)

	amountWord := data[selectorLen+wordLen : selectorLen+2*wordLen]
	amount := new(big.Int).SetBytes(amountWord)

	return GasTokenTransfer{Token: last.To, Recipient: recipient, Amount: amount}, nil
}

// ValidateGasTokenTransfer is the execute_raw-path check: the token the
// raw calldata actually transfers, and the address it transfers to,
// must match what the request declared.
func ValidateGasTokenTransfer(calls []Call, declaredToken, gasTank common.Address) (GasTokenTransfer, error) {
	transfer, err := ExtractGasTokenTransfer(calls)
	if err != nil {
		return GasTokenTransfer{}, err
	}

	if transfer.Token != declaredToken {
		return GasTokenTransfer{}, ErrInvalidGasTokenTransfer
	}
	if transfer.Recipient != gasTank {
		return GasTokenTransfer{}, ErrWrongRecipient
	}

	return transfer, nil
}
