package diagnostics

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/ChoSanghyuk/paymaster/internal/chain"
)

var testCalls = []chain.Call{
	{To: common.HexToAddress("0x1111111111111111111111111111111111111111"), Calldata: nil, Value: big.NewInt(0)},
	{To: common.HexToAddress("0x2222222222222222222222222222222222222222"), Calldata: nil, Value: big.NewInt(0)},
}

func TestRegistry_DiagnoseMatchesRegisteredExtractor(t *testing.T) {
	r := NewRegistry()
	r.Register(func(calls []chain.Call, raw string) (CallDiagnostic, bool) {
		if raw == "specific" {
			return CallDiagnostic{Code: "SPECIFIC"}, true
		}
		return CallDiagnostic{}, false
	})

	diag := r.Diagnose(testCalls, "specific")
	assert.Equal(t, "SPECIFIC", diag.Code)
}

func TestRegistry_DiagnoseFallsBackToUnknown(t *testing.T) {
	r := NewRegistry()
	diag := r.Diagnose(testCalls, "anything")
	assert.Equal(t, "UNKNOWN", diag.Code)
}

func TestRegistry_FirstMatchingExtractorWins(t *testing.T) {
	hitFirst := false
	r1 := NewRegistry()
	r1.Register(func([]chain.Call, string) (CallDiagnostic, bool) { hitFirst = true; return CallDiagnostic{Code: "A"}, true })
	r1.Register(func([]chain.Call, string) (CallDiagnostic, bool) { return CallDiagnostic{Code: "B"}, true })

	diag := r1.Diagnose(testCalls, "x")
	assert.True(t, hitFirst)
	assert.Equal(t, "A", diag.Code)
}

func TestDefaultRegistry_RecognizesInsufficientBalance(t *testing.T) {
	r := DefaultRegistry()
	diag := r.Diagnose(testCalls, "ERC20: transfer amount exceeds balance")
	assert.Equal(t, "INSUFFICIENT_BALANCE", diag.Code)
	assert.Equal(t, testCalls[len(testCalls)-1].To, diag.Target)
}

func TestDefaultRegistry_RecognizesInsufficientAllowance(t *testing.T) {
	r := DefaultRegistry()
	diag := r.Diagnose(testCalls, "ERC20: insufficient allowance")
	assert.Equal(t, "INSUFFICIENT_ALLOWANCE", diag.Code)
}

func TestDefaultRegistry_RecognizesSlippage(t *testing.T) {
	r := DefaultRegistry()
	diag := r.Diagnose(testCalls, "AVNU: slippage exceeded tolerance")
	assert.Equal(t, "SWAP_SLIPPAGE_EXCEEDED", diag.Code)
}

func TestDefaultRegistry_FallsBackWithEmptyCalls(t *testing.T) {
	r := DefaultRegistry()
	diag := r.Diagnose(nil, "unrecognized revert reason")
	assert.Equal(t, "UNKNOWN", diag.Code)
}
