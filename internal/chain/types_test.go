package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTxStatus_String(t *testing.T) {
	assert.Equal(t, "pending", TxStatusPending.String())
	assert.Equal(t, "accepted_on_chain", TxStatusAcceptedOnChain.String())
	assert.Equal(t, "rejected", TxStatusRejected.String())
	assert.Equal(t, "unknown", TxStatus(99).String())
}
