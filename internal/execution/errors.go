package execution

import "errors"

var (
	ErrMaxFeeTooLow              = errors.New("execution: max fee accepted by the user is below the live estimate")
	ErrUnsupportedGasToken       = errors.New("execution: gas token is not in the supported token list")
	ErrInvalidGasTokenTransfer   = errors.New("execution: calldata does not transfer the declared gas token to the gas tank")
	ErrCalldataTooShort          = errors.New("execution: calldata is too short to contain a fee transfer")
	ErrWrongSelector             = errors.New("execution: last call is not an ERC-20 transfer")
	ErrWrongRecipient            = errors.New("execution: fee transfer recipient is not the gas tank")
	ErrNoCalls                   = errors.New("execution: transaction has no calls")
	ErrExpiredDeadline           = errors.New("execution: execution deadline has passed")
	ErrInvalidSignature          = errors.New("execution: signature does not match the declared user address")
	ErrInvalidDeploymentData     = errors.New("execution: deploy_and_invoke intent is missing deployment data")
	ErrAlreadySubmitted          = errors.New("execution: identical transaction was already submitted in the last 30 seconds")
	ErrBlacklistedCall           = errors.New("execution: call targets a blacklisted address")
)
