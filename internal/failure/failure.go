// Package failure defines the typed error taxonomy of the pipeline so callers
// can branch on the cause of a failed step instead of parsing messages.
package failure

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies which component failed.
type Kind string

// Failure kinds
const (
	KindAllowance        Kind = "AllowanceFailure"
	KindPoolNotFound     Kind = "PoolNotFound"
	KindPoolMismatch     Kind = "PoolMismatch"
	KindChainUnavailable Kind = "ChainUnavailable"
	KindSwap             Kind = "SwapFailure"
	KindLiquidity        Kind = "LiquidityFailure"
)

// Phase narrows a failure down to the part of the operation that failed.
type Phase string

// Failure phases. Swap failures use estimation, submission and execution;
// liquidity failures use allowance and deposit.
const (
	PhaseNone       Phase = ""
	PhaseEstimation Phase = "estimation"
	PhaseSubmission Phase = "submission"
	PhaseExecution  Phase = "execution"
	PhaseAllowance  Phase = "allowance"
	PhaseDeposit    Phase = "deposit"
)

// Sentinels for errors.Is. A sentinel with a phase only matches that phase.
var (
	ErrAllowance        = &Error{Kind: KindAllowance}
	ErrPoolNotFound     = &Error{Kind: KindPoolNotFound}
	ErrPoolMismatch     = &Error{Kind: KindPoolMismatch}
	ErrChainUnavailable = &Error{Kind: KindChainUnavailable}
	ErrSwap             = &Error{Kind: KindSwap}
	ErrSwapEstimation   = &Error{Kind: KindSwap, Phase: PhaseEstimation}
	ErrSwapSubmission   = &Error{Kind: KindSwap, Phase: PhaseSubmission}
	ErrSwapExecution    = &Error{Kind: KindSwap, Phase: PhaseExecution}
	ErrLiquidity        = &Error{Kind: KindLiquidity}
	ErrLiquidityApprove = &Error{Kind: KindLiquidity, Phase: PhaseAllowance}
	ErrLiquidityDeposit = &Error{Kind: KindLiquidity, Phase: PhaseDeposit}
)

// Error is a component-level pipeline failure.
type Error struct {
	Kind    Kind
	Phase   Phase
	Message string

	// TxHash is set once a transaction was broadcast
	TxHash common.Hash

	// Unresolved marks a broadcast transaction whose fate is unknown,
	// e.g. after a confirmation timeout
	Unresolved bool

	Err error
}

// New creates a failure without an underlying cause.
func New(kind Kind, phase Phase, message string) *Error {
	return &Error{Kind: kind, Phase: phase, Message: message}
}

// Wrap creates a failure around an underlying cause.
func Wrap(kind Kind, phase Phase, err error, message string) *Error {
	return &Error{Kind: kind, Phase: phase, Message: message, Err: err}
}

// WithTx records the transaction the failure refers to.
func (e *Error) WithTx(hash common.Hash, unresolved bool) *Error {
	e.TxHash = hash
	e.Unresolved = unresolved
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	label := string(e.Kind)
	if e.Phase != PhaseNone {
		label = fmt.Sprintf("%s{%s}", e.Kind, e.Phase)
	}
	msg := label
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *Error of the same kind, and the same phase when the
// target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Phase == PhaseNone || e.Phase == t.Phase
}

// KindOf returns the kind of the outermost failure in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// PhaseOf returns the phase of the outermost failure in err's chain.
func PhaseOf(err error) Phase {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Phase
	}
	return PhaseNone
}

// IsUnresolved reports whether any failure in the chain left a broadcast
// transaction with an unknown fate.
func IsUnresolved(err error) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Unresolved {
			return true
		}
		err = fe.Err
	}
	return false
}
