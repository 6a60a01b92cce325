// Package diagnostics turns a raw revert/estimation failure message into
// a structured, user-actionable CallDiagnostic. Extractors are
// stateless, order-independent, and appended to a single registry; the
// first one that matches wins.
package diagnostics

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
)

// CallDiagnostic is the structured explanation returned alongside a
// failed build or execute call. Target names the call this diagnosis
// is attributed to, when the extractor could tell which one failed.
type CallDiagnostic struct {
	Code    string
	Message string
	Target  common.Address
}

// Extractor inspects a failed intent's calls and the raw error message
// and, if it recognizes the failure pattern, returns a CallDiagnostic
// and true. calls lets an extractor target the specific contract the
// failure is attributed to instead of guessing from the string alone.
type Extractor func(calls []chain.Call, rawMessage string) (CallDiagnostic, bool)

// Registry holds every known extractor. New ones are appended, never
// inserted at a particular position - matching order must not be
// load-bearing for correctness.
type Registry struct {
	extractors []Extractor
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// Diagnose runs every registered extractor against calls and rawMessage
// and returns the first match, or a generic diagnostic if none matched.
func (r *Registry) Diagnose(calls []chain.Call, rawMessage string) CallDiagnostic {
	for _, e := range r.extractors {
		if diag, ok := e(calls, rawMessage); ok {
			return diag
		}
	}
	return CallDiagnostic{Code: "UNKNOWN", Message: rawMessage}
}

// lastCallTarget returns the address of the final call in the list,
// the one a multicall's gas-token transfer or swap failure is almost
// always attributable to.
func lastCallTarget(calls []chain.Call) common.Address {
	if len(calls) == 0 {
		return common.Address{}
	}
	return calls[len(calls)-1].To
}

// DefaultRegistry wires the extractors this service ships with. Mirrors
// the reference service's AVNU-specific extractor plus a couple of
// generic ERC-20/allowance failure patterns commonly seen on EVM chains.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(insufficientBalanceExtractor)
	r.Register(insufficientAllowanceExtractor)
	r.Register(avnuSlippageExtractor)
	return r
}

func insufficientBalanceExtractor(calls []chain.Call, raw string) (CallDiagnostic, bool) {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "transfer amount exceeds balance") || strings.Contains(lower, "insufficient balance") {
		return CallDiagnostic{Code: "INSUFFICIENT_BALANCE", Message: "the account does not hold enough of the token being transferred", Target: lastCallTarget(calls)}, true
	}
	return CallDiagnostic{}, false
}

func insufficientAllowanceExtractor(calls []chain.Call, raw string) (CallDiagnostic, bool) {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "insufficient allowance") || strings.Contains(lower, "transfer amount exceeds allowance") {
		return CallDiagnostic{Code: "INSUFFICIENT_ALLOWANCE", Message: "the spender is not approved to move enough of the token", Target: lastCallTarget(calls)}, true
	}
	return CallDiagnostic{}, false
}

// avnuSlippageExtractor recognizes the AVNU swap-router revert reason
// used when a quote has gone stale between build and execute, grounded
// on paymaster-execution/src/diagnostics/extractors/avnu.rs.
func avnuSlippageExtractor(calls []chain.Call, raw string) (CallDiagnostic, bool) {
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "slippage") || strings.Contains(lower, "price impact too high") {
		return CallDiagnostic{Code: "SWAP_SLIPPAGE_EXCEEDED", Message: "the swap quote expired before execution, slippage tolerance was exceeded", Target: lastCallTarget(calls)}, true
	}
	return CallDiagnostic{}, false
}
