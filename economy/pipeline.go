package economy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"flapgate/ledger"
)

// mutateFunc performs the saga-specific reward step once payment has been
// collected. It returns the transaction reference the caller reports.
type mutateFunc func(ctx context.Context) (ledger.TxRef, error)

// paidAction parameterizes the shared skeleton every priced saga follows:
// verify the signed intent, authorize and collect the server-derived cost,
// then run the mutate step. Gacha, skill gacha and the item shop differ only
// in their message, cost and mutate step.
type paidAction struct {
	saga      string
	actor     common.Address
	message   string
	signature string
	timestamp int64
	fresh     bool
	cost      *big.Int
	permit    Permit
	mutate    mutateFunc
}

// runPaid executes one paid saga end to end. Any mutate failure after the
// payment landed is escalated to PaymentCollectedRewardFailed: the player has
// been charged and the discrepancy must be reconciled out-of-band, never
// silently swallowed.
func (e *Engine) runPaid(ctx context.Context, action paidAction) (ledger.TxRef, error) {
	started := e.now()

	if action.signature != "" || action.message != "" {
		if action.fresh {
			if err := checkFreshness(started, action.timestamp, e.freshness); err != nil {
				return "", e.finish(ctx, action.saga, action.actor, started, "", err)
			}
		}
		if !Verify(action.actor, action.message, action.signature) {
			err := Errf(CodeInvalidSignature, "signature does not recover to actor")
			return "", e.finish(ctx, action.saga, action.actor, started, "", err)
		}
	}

	if err := e.authorizeAndCollect(ctx, action.actor, action.cost, action.permit); err != nil {
		return "", e.finish(ctx, action.saga, action.actor, started, "", err)
	}

	ref, err := action.mutate(ctx)
	if err != nil {
		// Payment is already collected; this failure class is loud and
		// distinct so it can be refunded or retried by an operator.
		err = Wrap(CodePaymentCollectedRewardFailed, err, "payment collected but reward step failed")
		return "", e.finish(ctx, action.saga, action.actor, started, "", err)
	}
	return ref, e.finish(ctx, action.saga, action.actor, started, ref, nil)
}

// submitAndConfirm is the standard unit of ledger mutation inside sagas:
// every step is confirmed before its successor is submitted.
func (e *Engine) submitAndConfirm(ctx context.Context, submit func(context.Context) (ledger.TxRef, error)) (ledger.TxRef, error) {
	ref, err := submit(ctx)
	if err != nil {
		return "", err
	}
	if err := e.gw.WaitConfirmed(ctx, ref); err != nil {
		return "", err
	}
	return ref, nil
}
