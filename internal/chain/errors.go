package chain

import (
	"errors"
	"strings"
)

var (
	// ErrNonceMismatch is returned when the chain rejects a transaction
	// because the sender's nonce does not match what we cached. Grounded
	// on the reference service matching the literal substring
	// "Invalid transaction nonce of contract at address" in node error
	// responses; the Go port keeps the same substring match against the
	// error returned by the underlying RPC client.
	ErrNonceMismatch = errors.New("chain: invalid nonce")

	ErrMaxFeeTooLow     = errors.New("chain: max fee too low to cover estimated cost")
	ErrSimulationFailed = errors.New("chain: transaction simulation failed")
)

const nonceMismatchSubstring = "invalid transaction nonce"

// ClassifyError maps a raw RPC error string onto one of the sentinel
// errors above so callers (relayer pool, execution pipeline) can branch
// on error *kind* rather than string content everywhere.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, nonceMismatchSubstring) {
		return ErrNonceMismatch
	}
	return err
}
