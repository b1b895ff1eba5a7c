package economy

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"flapgate/ledger"
)

// GachaResult reports a primary gacha roll.
type GachaResult struct {
	Rarity     Rarity       `json:"-"`
	RarityName string       `json:"rarity"`
	TxRef      ledger.TxRef `json:"txRef"`
}

// RollGacha collects the fixed roll cost and mints one character of a rarity
// drawn from the 65/25/8/2 table. The draw happens only after payment has
// confirmed and never depends on player input.
func (e *Engine) RollGacha(ctx context.Context, actor common.Address, timestamp int64, signature string, permit Permit) (*GachaResult, error) {
	var rarity Rarity
	ref, err := e.runPaid(ctx, paidAction{
		saga:      "gacha",
		actor:     actor,
		message:   gachaMessage(timestamp),
		signature: signature,
		timestamp: timestamp,
		fresh:     true,
		cost:      GachaCost,
		permit:    permit,
		mutate: func(ctx context.Context) (ledger.TxRef, error) {
			rarity = drawRarity(e.rollN(100))
			return e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
				return e.gw.SubmitMintCharacter(ctx, actor, uint8(rarity))
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return &GachaResult{Rarity: rarity, RarityName: rarity.String(), TxRef: ref}, nil
}

// SkillGachaResult reports a secondary gacha roll.
type SkillGachaResult struct {
	SkillType uint8        `json:"skillType"`
	Level     uint8        `json:"level"`
	TxRef     ledger.TxRef `json:"txRef"`
}

// RollSkillGacha collects the skill roll cost and mints one base-level skill
// drawn uniformly from the allowed pool.
func (e *Engine) RollSkillGacha(ctx context.Context, actor common.Address, timestamp int64, signature string, permit Permit) (*SkillGachaResult, error) {
	const baseLevel = 1
	var skillType uint8
	ref, err := e.runPaid(ctx, paidAction{
		saga:      "skill_gacha",
		actor:     actor,
		message:   skillGachaMessage(timestamp),
		signature: signature,
		timestamp: timestamp,
		fresh:     true,
		cost:      SkillGachaCost,
		permit:    permit,
		mutate: func(ctx context.Context) (ledger.TxRef, error) {
			skillType = skillGachaPool[e.rollN(len(skillGachaPool))]
			return e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
				return e.gw.SubmitMintSkill(ctx, actor, skillType, baseLevel)
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return &SkillGachaResult{SkillType: skillType, Level: baseLevel, TxRef: ref}, nil
}
