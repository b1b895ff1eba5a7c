package economy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"flapgate/ledger"
)

// LevelUpResult reports a fusion level-up.
type LevelUpResult struct {
	SkillType uint8        `json:"skillType"`
	NewLevel  uint8        `json:"newLevel"`
	TxRef     ledger.TxRef `json:"txRef"`
}

// UnlockResult reports a fusion unlock into the next rarity tier.
type UnlockResult struct {
	SkillType  uint8        `json:"skillType"`
	Rarity     Rarity       `json:"-"`
	RarityName string       `json:"rarity"`
	TxRef      ledger.TxRef `json:"txRef"`
}

// fusionInput is one validated skill token.
type fusionInput struct {
	tokenID *big.Int
	data    ledger.SkillData
}

// loadFusionInputs checks ownership and backend approval for both tokens.
// Every precondition failure happens before any burn is submitted.
func (e *Engine) loadFusionInputs(ctx context.Context, actor common.Address, tokenA, tokenB uint64) ([2]fusionInput, error) {
	var inputs [2]fusionInput
	if tokenA == tokenB {
		return inputs, Errf(CodeMismatchedInputs, "fusion requires two distinct tokens")
	}
	backend := e.gw.BackendAddress()
	for i, id := range []uint64{tokenA, tokenB} {
		tokenID := new(big.Int).SetUint64(id)
		owner, err := e.gw.SkillOwner(ctx, tokenID)
		if err != nil {
			return inputs, Wrap(CodeLedgerUnavailable, err, "read owner of token %d", id)
		}
		if owner != actor && owner != backend {
			return inputs, Errf(CodeNotOwner, "token %d not owned by actor", id)
		}
		// Custodied tokens need no approval; player-held ones must have
		// approved the backend to burn.
		if owner == actor {
			approved, err := e.gw.SkillApproved(ctx, tokenID)
			if err != nil {
				return inputs, Wrap(CodeLedgerUnavailable, err, "read approval of token %d", id)
			}
			if approved != backend {
				return inputs, Errf(CodeNotApproved, "token %d not approved for the backend", id)
			}
		}
		data, err := e.gw.SkillData(ctx, tokenID)
		if err != nil {
			return inputs, Wrap(CodeLedgerUnavailable, err, "read skill data of token %d", id)
		}
		inputs[i] = fusionInput{tokenID: tokenID, data: data}
	}
	return inputs, nil
}

// burnBoth consumes the two inputs, confirming each burn before the next
// submission.
func (e *Engine) burnBoth(ctx context.Context, inputs [2]fusionInput) error {
	for _, input := range inputs {
		if _, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
			return e.gw.SubmitBurnSkill(ctx, input.tokenID)
		}); err != nil {
			return Wrap(CodeBurnFailed, err, "burn token %s failed", input.tokenID)
		}
	}
	return nil
}

// LevelUp burns two same-type same-level skills and mints one of the next
// level.
func (e *Engine) LevelUp(ctx context.Context, actor common.Address, tokenA, tokenB uint64, signature string) (*LevelUpResult, error) {
	started := e.now()

	if !Verify(actor, levelUpMessage(tokenA, tokenB), signature) {
		err := Errf(CodeInvalidSignature, "signature does not recover to actor")
		return nil, e.finish(ctx, "fusion_level_up", actor, started, "", err)
	}

	inputs, err := e.loadFusionInputs(ctx, actor, tokenA, tokenB)
	if err != nil {
		return nil, e.finish(ctx, "fusion_level_up", actor, started, "", err)
	}
	a, b := inputs[0].data, inputs[1].data
	if a.SkillType != b.SkillType || a.Level != b.Level {
		err := Errf(CodeMismatchedInputs, "inputs are (%d,l%d) and (%d,l%d); fusion needs same type and level",
			a.SkillType, a.Level, b.SkillType, b.Level)
		return nil, e.finish(ctx, "fusion_level_up", actor, started, "", err)
	}

	if err := e.burnBoth(ctx, inputs); err != nil {
		return nil, e.finish(ctx, "fusion_level_up", actor, started, "", err)
	}

	newLevel := a.Level + 1
	ref, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
		return e.gw.SubmitMintSkill(ctx, actor, a.SkillType, newLevel)
	})
	if err != nil {
		// Both inputs are burned; the replacement must not vanish quietly.
		err = Wrap(CodePaymentCollectedRewardFailed, err, "inputs burned but replacement mint failed")
		return nil, e.finish(ctx, "fusion_level_up", actor, started, "", err)
	}
	result := &LevelUpResult{SkillType: a.SkillType, NewLevel: newLevel, TxRef: ref}
	return result, e.finish(ctx, "fusion_level_up", actor, started, ref, nil)
}

// Unlock burns two different-type same-tier skills and mints a level-1 skill
// drawn uniformly from the next tier's pool. The top tier has no next pool:
// the saga rejects with NoNextTier before anything burns.
func (e *Engine) Unlock(ctx context.Context, actor common.Address, tokenA, tokenB uint64, signature string) (*UnlockResult, error) {
	started := e.now()

	if !Verify(actor, unlockMessage(tokenA, tokenB), signature) {
		err := Errf(CodeInvalidSignature, "signature does not recover to actor")
		return nil, e.finish(ctx, "fusion_unlock", actor, started, "", err)
	}

	inputs, err := e.loadFusionInputs(ctx, actor, tokenA, tokenB)
	if err != nil {
		return nil, e.finish(ctx, "fusion_unlock", actor, started, "", err)
	}
	a, b := inputs[0].data, inputs[1].data
	if a.SkillType == b.SkillType {
		err := Errf(CodeMismatchedInputs, "unlock needs two different skill types")
		return nil, e.finish(ctx, "fusion_unlock", actor, started, "", err)
	}
	rarityA, okA := skillRarityIn(e.pools, a.SkillType)
	rarityB, okB := skillRarityIn(e.pools, b.SkillType)
	if !okA || !okB {
		err := Errf(CodeInvalidRequest, "unknown skill type")
		return nil, e.finish(ctx, "fusion_unlock", actor, started, "", err)
	}
	if rarityA != rarityB {
		err := Errf(CodeMismatchedRarity, "inputs are %s and %s; unlock needs matching rarity", rarityA, rarityB)
		return nil, e.finish(ctx, "fusion_unlock", actor, started, "", err)
	}
	next, ok := nextRarity(rarityA)
	if !ok || len(e.pools[next]) == 0 {
		err := Errf(CodeNoNextTier, "no tier above %s", rarityA)
		return nil, e.finish(ctx, "fusion_unlock", actor, started, "", err)
	}

	if err := e.burnBoth(ctx, inputs); err != nil {
		return nil, e.finish(ctx, "fusion_unlock", actor, started, "", err)
	}

	pool := e.pools[next]
	newType := pool[e.rollN(len(pool))]
	ref, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
		return e.gw.SubmitMintSkill(ctx, actor, newType, 1)
	})
	if err != nil {
		err = Wrap(CodePaymentCollectedRewardFailed, err, "inputs burned but replacement mint failed")
		return nil, e.finish(ctx, "fusion_unlock", actor, started, "", err)
	}
	result := &UnlockResult{SkillType: newType, Rarity: next, RarityName: next.String(), TxRef: ref}
	return result, e.finish(ctx, "fusion_unlock", actor, started, ref, nil)
}
