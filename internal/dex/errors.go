package dex

import (
	"errors"
	"fmt"
)

// Kind groups error codes by what went wrong.
type Kind uint8

const (
	KindUnknown Kind = iota
	StructuralError
	OwnershipError
	SignerError
	ArgumentError
	StateError
	DerivationError
)

func (k Kind) String() string {
	switch k {
	case StructuralError:
		return "structural"
	case OwnershipError:
		return "ownership"
	case SignerError:
		return "signer"
	case ArgumentError:
		return "argument"
	case StateError:
		return "state"
	case DerivationError:
		return "derivation"
	default:
		return "unknown"
	}
}

// Error is a program error with a stable numeric code.
type Error struct {
	Code uint32
	Kind Kind
	Name string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dex error %d (%s): %s", e.Code, e.Kind, e.Name)
}

func newError(code uint32, kind Kind, name string) *Error {
	return &Error{Code: code, Kind: kind, Name: name}
}

var (
	ErrInvalidInstruction    = newError(0, StructuralError, "invalid instruction")
	ErrAccountCount          = newError(1, StructuralError, "wrong number of accounts")
	ErrAccountNotWritable    = newError(2, StructuralError, "account not writable")
	ErrInvalidStateData      = newError(3, StructuralError, "invalid state account data")
	ErrInvalidStateOwner     = newError(10, OwnershipError, "state account not owned by the program")
	ErrInvalidTokenProgram   = newError(11, OwnershipError, "invalid token program")
	ErrInvalidSystemProgram  = newError(12, OwnershipError, "invalid system program")
	ErrInvalidOrderbookOwner = newError(13, OwnershipError, "orderbook not owned by the matching program")
	ErrInvalidTokenAccount   = newError(14, OwnershipError, "not a token account")
	ErrNotExecutable         = newError(15, OwnershipError, "program account is not executable")
	ErrMissingSigner         = newError(20, SignerError, "missing required signer")
	ErrInvalidMarketSigner   = newError(30, ArgumentError, "invalid market signer")
	ErrInvalidBaseVault      = newError(31, ArgumentError, "invalid base vault")
	ErrInvalidQuoteVault     = newError(32, ArgumentError, "invalid quote vault")
	ErrInvalidMarketAdmin    = newError(33, ArgumentError, "invalid market admin")
	ErrInvalidAaobProgram    = newError(34, ArgumentError, "invalid matching program")
	ErrInvalidOrderbook      = newError(35, ArgumentError, "invalid orderbook")
	ErrInvalidEventQueue     = newError(36, ArgumentError, "invalid event queue")
	ErrInvalidUserOwner      = newError(37, ArgumentError, "user account owner mismatch")
	ErrWrongMarket           = newError(38, ArgumentError, "user account belongs to another market")
	ErrInvalidUserAccountKey = newError(39, ArgumentError, "user account is not at its derived address")
	ErrOrderNotFound         = newError(40, ArgumentError, "order not found")
	ErrInvalidOrderParams    = newError(41, ArgumentError, "invalid order parameters")
	ErrInvalidVaultAuthority = newError(42, ArgumentError, "vault not owned by the market signer")
	ErrInvalidMaxOrders      = newError(43, ArgumentError, "invalid max orders")
	ErrInvalidOrderbookAuth  = newError(44, ArgumentError, "orderbook caller authority is not the market signer")
	ErrInvalidMarketParams   = newError(45, ArgumentError, "invalid market parameters")
	ErrInvalidUserToken      = newError(46, ArgumentError, "user token account mint mismatch")
	ErrNoOp                  = newError(50, StateError, "no operation")
	ErrAlreadyInitialized    = newError(51, StateError, "account already initialized")
	ErrAccountNotEmpty       = newError(52, StateError, "account not empty")
	ErrUserAccountFull       = newError(53, StateError, "user account has no free order slot")
	ErrBalanceUnderflow      = newError(54, StateError, "balance underflow")
	ErrUninitialized         = newError(55, StateError, "account not initialized")
	ErrOrderbookNotReady     = newError(56, StateError, "orderbook not initialized")
	ErrMarketNotEmpty        = newError(57, StateError, "market not empty")
	ErrMarketClosed          = newError(58, StateError, "market closed")
	ErrBalanceOverflow       = newError(59, StateError, "balance overflow")
	ErrSignerDerivation      = newError(60, DerivationError, "market signer derivation exhausted")
)

// KindOf returns the kind of the first program error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
