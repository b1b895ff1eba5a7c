package economy

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"flapgate/ledger"
)

// ClaimResult reports a successful one-time claim.
type ClaimResult struct {
	TxRef ledger.TxRef `json:"txRef"`
}

// Claim mints the fixed starter reward once per actor. The durable claim
// ledger is reserved before the mint so two concurrent claims can never both
// mint. The reservation is released only when the mint provably never
// happened (rejected before submission, or mined and reverted); an
// unconfirmed mint keeps it, because the transaction may still land.
func (e *Engine) Claim(ctx context.Context, actor common.Address, timestamp int64, signature string) (*ClaimResult, error) {
	started := e.now()

	if err := checkFreshness(started, timestamp, e.freshness); err != nil {
		return nil, e.finish(ctx, "claim", actor, started, "", err)
	}
	if !Verify(actor, claimMessage(timestamp), signature) {
		err := Errf(CodeInvalidSignature, "signature does not recover to actor")
		return nil, e.finish(ctx, "claim", actor, started, "", err)
	}

	reserved, err := e.store.ReserveClaim(ctx, actor.Hex())
	if err != nil {
		err = Wrap(CodeLedgerUnavailable, err, "claim ledger unavailable")
		return nil, e.finish(ctx, "claim", actor, started, "", err)
	}
	if !reserved {
		err := Errf(CodeAlreadyClaimed, "actor already claimed")
		return nil, e.finish(ctx, "claim", actor, started, "", err)
	}

	ref, err := e.gw.SubmitMintToken(ctx, actor, ClaimReward)
	if err != nil {
		// Nothing reached the ledger; the actor may retry.
		e.releaseClaim(ctx, actor)
		err = Wrap(CodeMintFailed, err, "reward mint failed")
		return nil, e.finish(ctx, "claim", actor, started, "", err)
	}
	if err := e.gw.WaitConfirmed(ctx, ref); err != nil {
		if errors.Is(err, ledger.ErrReverted) {
			// Mined and definitively failed: no tokens moved.
			e.releaseClaim(ctx, actor)
			err = Wrap(CodeMintFailed, err, "reward mint reverted")
			return nil, e.finish(ctx, "claim", actor, started, "", err)
		}
		// The mint was accepted and may still land. Releasing here would let
		// a retry mint a second time, so the reservation is kept and the
		// transaction is surfaced for reconciliation.
		e.logger.Error("claim mint unconfirmed, reservation held",
			"actor", actor.Hex(), "tx", ref, "error", err)
		err = Wrap(CodeMintFailed, err, "reward mint unconfirmed; claim held")
		return nil, e.finish(ctx, "claim", actor, started, ref, err)
	}
	return &ClaimResult{TxRef: ref}, e.finish(ctx, "claim", actor, started, ref, nil)
}

func (e *Engine) releaseClaim(ctx context.Context, actor common.Address) {
	if err := e.store.ReleaseClaim(ctx, actor.Hex()); err != nil {
		e.logger.Error("claim reservation leaked", "actor", actor.Hex(), "error", err)
	}
}

// RewardResult reports a session score payout.
type RewardResult struct {
	Amount string       `json:"amount"`
	TxRef  ledger.TxRef `json:"txRef"`
}

// Reward mints score * RewardPerPoint to the actor at session end. The payout
// amount is computed here from the reported score; the request body carries
// no amounts.
func (e *Engine) Reward(ctx context.Context, actor common.Address, score int64, timestamp int64, signature string) (*RewardResult, error) {
	started := e.now()

	if score <= 0 || score > maxRewardScore {
		err := Errf(CodeInvalidRequest, "score %d outside accepted range", score)
		return nil, e.finish(ctx, "reward", actor, started, "", err)
	}
	if err := checkFreshness(started, timestamp, e.freshness); err != nil {
		return nil, e.finish(ctx, "reward", actor, started, "", err)
	}
	if !Verify(actor, rewardMessage(score, timestamp), signature) {
		err := Errf(CodeInvalidSignature, "signature does not recover to actor")
		return nil, e.finish(ctx, "reward", actor, started, "", err)
	}

	amount := new(big.Int).Mul(RewardPerPoint, big.NewInt(score))
	ref, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
		return e.gw.SubmitMintToken(ctx, actor, amount)
	})
	if err != nil {
		err = Wrap(CodeMintFailed, err, "reward mint failed")
		return nil, e.finish(ctx, "reward", actor, started, "", err)
	}
	return &RewardResult{Amount: amount.String(), TxRef: ref}, e.finish(ctx, "reward", actor, started, ref, nil)
}
