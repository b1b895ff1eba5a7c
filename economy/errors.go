package economy

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable saga error code. The front-end switches
// on codes and never parses reasons.
type Code string

const (
	CodeInvalidRequest           Code = "INVALID_REQUEST"
	CodeInvalidSignature         Code = "INVALID_SIGNATURE"
	CodeInvalidSignatureEncoding Code = "INVALID_SIGNATURE_ENCODING"
	CodeExpired                  Code = "EXPIRED"
	CodeAlreadyClaimed           Code = "ALREADY_CLAIMED"
	CodeMintFailed               Code = "MINT_FAILED"
	CodeBurnFailed               Code = "BURN_FAILED"
	CodeInsufficientFunds        Code = "INSUFFICIENT_FUNDS"
	CodePaymentFailed            Code = "PAYMENT_FAILED"
	CodeMismatchedInputs         Code = "MISMATCHED_INPUTS"
	CodeMismatchedRarity         Code = "MISMATCHED_RARITY"
	CodeNoNextTier               Code = "NO_NEXT_TIER"
	CodeNotApproved              Code = "NOT_APPROVED"
	CodeNotOwner                 Code = "NOT_OWNER"
	CodeAlreadyListed            Code = "ALREADY_LISTED"
	CodeApprovalFailed           Code = "APPROVAL_FAILED"
	CodeNotListed                Code = "NOT_LISTED"
	CodePriceMismatch            Code = "PRICE_MISMATCH"
	CodeSelfPurchase             Code = "SELF_PURCHASE"
	CodeNotSeller                Code = "NOT_SELLER"
	CodeLedgerUnavailable        Code = "LEDGER_UNAVAILABLE"

	// CodePaymentCollectedRewardFailed marks the dangerous partial-failure
	// class: the player paid but the reward step failed. Reconciled
	// out-of-band, never folded into a generic failure.
	CodePaymentCollectedRewardFailed Code = "PAYMENT_COLLECTED_REWARD_FAILED"
)

// SagaError pairs a stable code with a human-readable reason.
type SagaError struct {
	Code   Code
	Reason string
	Err    error
}

func (e *SagaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

func (e *SagaError) Unwrap() error {
	return e.Err
}

// Errf builds a SagaError with a formatted reason.
func Errf(code Code, format string, args ...interface{}) *SagaError {
	return &SagaError{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error.
func Wrap(code Code, err error, format string, args ...interface{}) *SagaError {
	return &SagaError{Code: code, Reason: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the saga code from an error chain, defaulting to
// LEDGER_UNAVAILABLE for untyped failures.
func CodeOf(err error) Code {
	var saga *SagaError
	if errors.As(err, &saga) {
		return saga.Code
	}
	return CodeLedgerUnavailable
}

// ReasonOf extracts the human-readable reason from an error chain.
func ReasonOf(err error) string {
	var saga *SagaError
	if errors.As(err, &saga) {
		return saga.Reason
	}
	return "ledger unavailable"
}
