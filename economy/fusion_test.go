package economy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"flapgate/ledger"
)

func setupSkill(gw *mockGateway, tokenID uint64, owner, approved common.Address, skillType, level uint8) {
	gw.owners[tokenID] = owner
	gw.approvals[tokenID] = approved
	gw.skills[tokenID] = ledger.SkillData{SkillType: skillType, Level: level}
}

func TestLevelUpHappyPath(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	setupSkill(gw, 4, actor, backendAddr, 1, 2)
	setupSkill(gw, 9, actor, backendAddr, 1, 2)

	result, err := engine.LevelUp(context.Background(), actor, 4, 9, signText(t, key, levelUpMessage(4, 9)))
	require.NoError(t, err)
	require.Equal(t, uint8(1), result.SkillType)
	require.Equal(t, uint8(3), result.NewLevel)
	require.Equal(t, 2, gw.callCount("burnSkill"))
	require.Equal(t, 1, gw.callCount("mintSkill(1,3)"))
}

func TestLevelUpMismatchedInputsNeverBurn(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	// Same type, different level.
	setupSkill(gw, 4, actor, backendAddr, 1, 2)
	setupSkill(gw, 9, actor, backendAddr, 1, 3)
	_, err := engine.LevelUp(context.Background(), actor, 4, 9, signText(t, key, levelUpMessage(4, 9)))
	require.Equal(t, CodeMismatchedInputs, CodeOf(err))

	// Different type, same level.
	setupSkill(gw, 9, actor, backendAddr, 2, 2)
	_, err = engine.LevelUp(context.Background(), actor, 4, 9, signText(t, key, levelUpMessage(4, 9)))
	require.Equal(t, CodeMismatchedInputs, CodeOf(err))

	require.Equal(t, 0, gw.callCount("burnSkill"))
}

func TestLevelUpRejectsDuplicateToken(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	setupSkill(gw, 4, actor, backendAddr, 1, 2)
	_, err := engine.LevelUp(context.Background(), actor, 4, 4, signText(t, key, levelUpMessage(4, 4)))
	require.Equal(t, CodeMismatchedInputs, CodeOf(err))
	require.Empty(t, gw.calls)
}

func TestLevelUpRequiresOwnershipAndApproval(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)
	_, stranger := newActor(t)

	setupSkill(gw, 4, stranger, backendAddr, 1, 2)
	setupSkill(gw, 9, actor, backendAddr, 1, 2)
	_, err := engine.LevelUp(context.Background(), actor, 4, 9, signText(t, key, levelUpMessage(4, 9)))
	require.Equal(t, CodeNotOwner, CodeOf(err))

	setupSkill(gw, 4, actor, stranger, 1, 2)
	_, err = engine.LevelUp(context.Background(), actor, 4, 9, signText(t, key, levelUpMessage(4, 9)))
	require.Equal(t, CodeNotApproved, CodeOf(err))

	require.Equal(t, 0, gw.callCount("burnSkill"))
}

func TestLevelUpBurnFailureStopsSaga(t *testing.T) {
	gw := newMockGateway()
	gw.burnSkillErr = errors.New("boom")
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	setupSkill(gw, 4, actor, backendAddr, 1, 2)
	setupSkill(gw, 9, actor, backendAddr, 1, 2)
	_, err := engine.LevelUp(context.Background(), actor, 4, 9, signText(t, key, levelUpMessage(4, 9)))
	require.Equal(t, CodeBurnFailed, CodeOf(err))
}

func TestUnlockHappyPath(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	// Two different common skills unlock into the rare pool; roll 0 picks
	// skill type 1.
	setupSkill(gw, 4, actor, backendAddr, 0, 1)
	setupSkill(gw, 9, actor, backendAddr, 4, 3)

	result, err := engine.Unlock(context.Background(), actor, 4, 9, signText(t, key, unlockMessage(4, 9)))
	require.NoError(t, err)
	require.Equal(t, RarityRare, result.Rarity)
	require.Equal(t, uint8(1), result.SkillType)
	require.Equal(t, 2, gw.callCount("burnSkill"))
	require.Equal(t, 1, gw.callCount("mintSkill(1,1)"))
}

func TestUnlockRejectsSameType(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	setupSkill(gw, 4, actor, backendAddr, 0, 1)
	setupSkill(gw, 9, actor, backendAddr, 0, 2)
	_, err := engine.Unlock(context.Background(), actor, 4, 9, signText(t, key, unlockMessage(4, 9)))
	require.Equal(t, CodeMismatchedInputs, CodeOf(err))
	require.Equal(t, 0, gw.callCount("burnSkill"))
}

func TestUnlockRejectsMismatchedRarity(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	setupSkill(gw, 4, actor, backendAddr, 0, 1) // common
	setupSkill(gw, 9, actor, backendAddr, 1, 1) // rare
	_, err := engine.Unlock(context.Background(), actor, 4, 9, signText(t, key, unlockMessage(4, 9)))
	require.Equal(t, CodeMismatchedRarity, CodeOf(err))
	require.Equal(t, 0, gw.callCount("burnSkill"))
}

func TestUnlockTopTierFailsWithoutBurn(t *testing.T) {
	gw := newMockGateway()
	key, actor := newActor(t)

	// The default table has a single epic type; a widened epic pool lets
	// two distinct top-tier skills meet the same-tier check and hit the
	// ceiling.
	engine := NewEngine(gw, newMemStore(), nil, nil,
		WithClock(func() time.Time { return testNow }),
		WithRoll(func(n int) int { return 0 }),
		WithSkillPools(map[Rarity][]uint8{
			RarityCommon: {0, 4},
			RarityRare:   {1, 2},
			RarityEpic:   {3, 5},
		}),
	)

	setupSkill(gw, 4, actor, backendAddr, 3, 1)
	setupSkill(gw, 9, actor, backendAddr, 5, 2)
	_, err := engine.Unlock(context.Background(), actor, 4, 9, signText(t, key, unlockMessage(4, 9)))
	require.Equal(t, CodeNoNextTier, CodeOf(err))
	require.Equal(t, 0, gw.callCount("burnSkill"))
}
