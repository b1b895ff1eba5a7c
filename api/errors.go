package api

import (
	"net/http"

	"flapgate/economy"
)

// statusFor maps a saga error code to an HTTP status. Codes the front-end
// can fix by changing the request map to 4xx; ledger-side failures map to
// 502 so callers can distinguish "you" errors from "us" errors.
func statusFor(code economy.Code) int {
	switch code {
	case economy.CodeInvalidRequest,
		economy.CodeInvalidSignatureEncoding,
		economy.CodeExpired,
		economy.CodeMismatchedInputs,
		economy.CodeMismatchedRarity,
		economy.CodeNoNextTier,
		economy.CodePriceMismatch,
		economy.CodeSelfPurchase:
		return http.StatusBadRequest
	case economy.CodeInvalidSignature:
		return http.StatusUnauthorized
	case economy.CodeNotOwner,
		economy.CodeNotSeller,
		economy.CodeNotApproved:
		return http.StatusForbidden
	case economy.CodeAlreadyClaimed,
		economy.CodeAlreadyListed:
		return http.StatusConflict
	case economy.CodeNotListed:
		return http.StatusNotFound
	case economy.CodeInsufficientFunds,
		economy.CodePaymentFailed:
		return http.StatusPaymentRequired
	case economy.CodeMintFailed,
		economy.CodeBurnFailed,
		economy.CodeApprovalFailed,
		economy.CodePaymentCollectedRewardFailed,
		economy.CodeLedgerUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
