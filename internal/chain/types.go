// Package chain provides the typed facade over one or more EVM JSON-RPC
// endpoints that every other component calls through: nonce lookups,
// balance lookups, gas estimation, call simulation and raw transaction
// submission.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call mirrors a single entry of a multicall/forwarder payload: a
// target contract, a selector-prefixed calldata blob and a native value
// to attach.
type Call struct {
	To       common.Address
	Calldata []byte
	Value    *big.Int
}

// FeeEstimate is the chain-measured cost of executing a transaction,
// before any token conversion or provider overhead is applied.
type FeeEstimate struct {
	GasConsumed *big.Int
	GasPrice    *big.Int
	OverallFee  *big.Int
}

// TxStatus is the lifecycle state this service tracks for a submitted
// transaction hash.
type TxStatus int

const (
	TxStatusPending TxStatus = iota
	TxStatusAcceptedOnChain
	TxStatusRejected
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusPending:
		return "pending"
	case TxStatusAcceptedOnChain:
		return "accepted_on_chain"
	case TxStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
