package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError_NilIsNil(t *testing.T) {
	assert.NoError(t, ClassifyError(nil))
}

func TestClassifyError_MapsNonceMismatchSubstring(t *testing.T) {
	err := errors.New("Invalid transaction nonce of contract at address 0xabc")
	assert.ErrorIs(t, ClassifyError(err), ErrNonceMismatch)
}

func TestClassifyError_CaseInsensitive(t *testing.T) {
	err := errors.New("INVALID TRANSACTION NONCE of contract at address 0xabc")
	assert.ErrorIs(t, ClassifyError(err), ErrNonceMismatch)
}

func TestClassifyError_PassesThroughUnrelatedErrors(t *testing.T) {
	err := errors.New("execution reverted")
	assert.Equal(t, err, ClassifyError(err))
}
