// Package execution implements the build -> estimate -> version-resolve
// -> execute pipeline: the two-phase protocol that turns a user's
// gasless transaction intent into a chain-executable transaction paid
// for by a relayer and charged back to the user in their chosen gas
// token.
package execution

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
)

// Call is re-exported from chain for convenience at call sites that
// only depend on this package.
type Call = chain.Call

// IntentKind tags which of the build-phase variants an intent carries,
// each assembled into a different broadcast-transaction list by
// assembleBroadcastCalls.
type IntentKind string

const (
	IntentInvoke          IntentKind = "invoke"
	IntentDeployAndInvoke IntentKind = "deploy_and_invoke"
	IntentRawInvoke       IntentKind = "raw_invoke"
)

// DeploymentData is the counterfactual-account deployment a
// DeployAndInvoke intent must broadcast ahead of its first call: a
// factory call that CREATE2s the account contract before anything is
// invoked on it.
type DeploymentData struct {
	Factory  common.Address
	InitCode []byte
	Salt     common.Hash
}

// TransactionIntent is the user-declared payload for the build phase:
// the calls they want executed, plus the token they intend to pay fees
// in.
type TransactionIntent struct {
	Kind       IntentKind
	Calls      []Call
	GasToken   common.Address
	UserAddr   common.Address
	Deployment *DeploymentData
}

// ExecutionParameters carries the fee ceiling and deadline the user
// accepted when they signed the build-phase typed data, plus the
// message nonce echoed back from that same typed data (the execute
// phase uses it to recompute the signed digest and to deduplicate
// retried submissions).
type ExecutionParameters struct {
	MaxFeeInToken *big.Int
	FeeToken      common.Address
	Deadline      int64
	MessageNonce  uint64
}

// FeeEstimate is the user-facing breakdown returned by the build phase:
// the chain-measured cost, converted into the requested gas token, plus
// the provider overhead this service adds on top.
type FeeEstimate struct {
	GasTokenPrice       *big.Int
	OverallFeeInNative  *big.Int
	OverallFeeInToken   *big.Int
	ProviderOverhead    *big.Int
	SuggestedMaxFee     *big.Int
}

// Transaction is the unsigned, build-phase output: calls plus metadata,
// not yet quoted.
type Transaction struct {
	Intent       TransactionIntent
	MessageNonce uint64
}

// EstimatedTransaction pairs a Transaction with its FeeEstimate, ready
// to be turned into typed data for the user to sign.
type EstimatedTransaction struct {
	Transaction Transaction
	Fee         FeeEstimate
}

// VersionedTransaction is the output of the build endpoint: typed data
// for the client to sign, plus the fee breakdown and the protocol
// version used to build it (V1 forwarder ABI vs V2).
type VersionedTransaction struct {
	TypedData    *apitypes.TypedData
	Fee          FeeEstimate
	Version      int
	MessageNonce uint64
}

// ExecutableTransactionParameters is the execute-phase input: the same
// intent, the user's signature over the typed data produced at build
// time, and the execution parameters they agreed to.
type ExecutableTransactionParameters struct {
	Intent     TransactionIntent
	Parameters ExecutionParameters
	Signature  []byte
	Version    int
}

// ExecutableTransaction is a validated, ready-to-send transaction: the
// forwarder call plus the fee-transfer call appended to it.
type ExecutableTransaction struct {
	Calls        []Call
	GasToken     common.Address
	UserAddr     common.Address
	MessageNonce uint64
}

// EstimatedExecutableTransaction is the final internal representation
// right before signing: the executable calls plus the fee actually
// charged, used to build the relayer-signed transaction.
type EstimatedExecutableTransaction struct {
	Transaction ExecutableTransaction
	Fee         FeeEstimate
}

// UniqueIdentifier returns a stable hash of (user, message nonce) used
// to deduplicate retried client submissions within the 30-second
// window: the message nonce is generated once at build time and
// echoed back unchanged by the client, so two execute calls carrying
// the same nonce for the same user are the same submission even if
// the calldata happens to differ.
func (t ExecutableTransaction) UniqueIdentifier() common.Hash {
	var buf []byte
	buf = append(buf, t.UserAddr.Bytes()...)
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], t.MessageNonce)
	buf = append(buf, nonce[:]...)
	return crypto.Keccak256Hash(buf)
}
