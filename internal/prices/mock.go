package prices

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	pmath "github.com/ChoSanghyuk/paymaster/internal/prices/math"
)

// MockProvider is a test double implementing Provider, matching the
// reference service's testing-feature-gated mock price oracle.
type MockProvider struct {
	Price pmath.TokenPrice
	Err   error
}

func (m *MockProvider) FetchToken(context.Context, common.Address) (pmath.TokenPrice, error) {
	if m.Err != nil {
		return pmath.TokenPrice{}, m.Err
	}
	return m.Price, nil
}
