package ledger

import "errors"

var (
	ErrInvalidSignature          = errors.New("invalid transaction signature")
	ErrMalformedTransaction      = errors.New("malformed transaction")
	ErrInsufficientFundsForFee   = errors.New("insufficient funds for fee")
	ErrUnknownProgram            = errors.New("unknown program")
	ErrCallDepth                 = errors.New("cross-program invocation call depth too deep")
	ErrComputeBudgetExceeded     = errors.New("computational budget exceeded")
	ErrMissingAccount            = errors.New("missing account for cross-program invocation")
	ErrPrivilegeEscalation       = errors.New("cross-program invocation with unauthorized signer or writable account")
	ErrReadonlyModified          = errors.New("instruction modified a read-only account")
	ErrExternalDataModified      = errors.New("instruction modified data of an account it does not own")
	ErrExternalLamportSpend      = errors.New("instruction spent from an account it does not own")
	ErrModifiedProgramID         = errors.New("instruction illegally modified the owner of an account")
	ErrExecutableModified        = errors.New("instruction changed the executable flag of an account")
	ErrUnbalancedInstruction     = errors.New("sum of account balances before and after instruction do not match")
	ErrArithmeticOverflow        = errors.New("arithmetic overflow")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrInvalidInstructionData    = errors.New("invalid instruction data")
	ErrNotEnoughAccountKeys      = errors.New("not enough account keys")
	ErrMissingRequiredSignature  = errors.New("missing required signature")
	ErrAccountAlreadyInUse       = errors.New("account already in use")
	ErrAccountNotRentExempt      = errors.New("account not rent exempt")
	ErrInvalidAccountDataLength  = errors.New("invalid account data length")
	ErrInvalidAccountOwner       = errors.New("invalid account owner")
	ErrInvalidArgument           = errors.New("invalid argument")
	ErrTokenMintMismatch         = errors.New("token account mint mismatch")
	ErrTokenOwnerMismatch        = errors.New("token account owner mismatch")
	ErrTokenAccountFrozen        = errors.New("token account is frozen")
	ErrUninitializedTokenAccount = errors.New("token account is not initialized")
)
