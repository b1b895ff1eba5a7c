package economy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flapgate/ledger"
)

func TestRollGachaHappyPath(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	ts := testNow.UnixMilli()
	result, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), validPermit())
	require.NoError(t, err)
	require.Equal(t, RarityCommon, result.Rarity) // roll stubbed to 0
	require.NotEmpty(t, result.TxRef)

	// Strict order: permit, collect, then mint.
	require.Equal(t, []string{"permit", "transferFrom", "mintCharacter"}, gw.calls)
}

func TestRollGachaRarityFollowsRoll(t *testing.T) {
	gw := newMockGateway()
	store := newMemStore()
	key, actor := newActor(t)

	engine := NewEngine(gw, store, nil, nil,
		WithClock(func() time.Time { return testNow }),
		WithRoll(func(n int) int { return 98 }),
	)
	ts := testNow.UnixMilli()
	result, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), validPermit())
	require.NoError(t, err)
	require.Equal(t, RarityLegendary, result.Rarity)
}

func TestRollGachaRejectsExpiredPermitBeforeSubmission(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	permit := validPermit()
	permit.Deadline = testNow.Add(-time.Minute).Unix()
	ts := testNow.UnixMilli()
	_, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), permit)
	require.Equal(t, CodeExpired, CodeOf(err))
	require.Empty(t, gw.calls)
}

func TestRollGachaRejectsStaleTimestamp(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	ts := testNow.Add(-6 * time.Minute).UnixMilli()
	_, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), validPermit())
	require.Equal(t, CodeExpired, CodeOf(err))
	require.Empty(t, gw.calls)
}

func TestRollSkillGachaRejectsStaleTimestamp(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	ts := testNow.Add(-6 * time.Minute).UnixMilli()
	_, err := engine.RollSkillGacha(context.Background(), actor, ts, signText(t, key, skillGachaMessage(ts)), validPermit())
	require.Equal(t, CodeExpired, CodeOf(err))
	require.Empty(t, gw.calls)
}

func TestRollGachaRejectsMalformedPermitSignature(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	permit := validPermit()
	permit.Signature = "0x1234"
	ts := testNow.UnixMilli()
	_, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), permit)
	require.Equal(t, CodeInvalidSignatureEncoding, CodeOf(err))
	require.Empty(t, gw.calls)
}

func TestRollGachaTransferRevertIsInsufficientFunds(t *testing.T) {
	gw := newMockGateway()
	gw.transferErr = errors.New("execution reverted: transfer amount exceeds balance")
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	ts := testNow.UnixMilli()
	_, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), validPermit())
	require.Equal(t, CodeInsufficientFunds, CodeOf(err))
	require.Equal(t, 0, gw.callCount("mintCharacter"))
}

// A transport failure during gas estimation says nothing about the payer's
// balance and must not be reported as insufficient funds.
func TestRollGachaEstimateOutageIsPaymentFailed(t *testing.T) {
	gw := newMockGateway()
	gw.transferErr = errors.New("estimate gas: connection refused")
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	ts := testNow.UnixMilli()
	_, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), validPermit())
	require.Equal(t, CodePaymentFailed, CodeOf(err))
}

func TestRollGachaMintFailureAfterPaymentIsLoud(t *testing.T) {
	gw := newMockGateway()
	gw.mintCharErr = errors.New("boom")
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	ts := testNow.UnixMilli()
	_, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), validPermit())
	require.Equal(t, CodePaymentCollectedRewardFailed, CodeOf(err))
	// Payment really did land first.
	require.Equal(t, 1, gw.callCount("transferFrom"))
}

func TestRollGachaUnconfirmedPermitStopsSaga(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	key, actor := newActor(t)

	// First submission confirms with failure.
	gw.confirmErrs[ledger.TxRef("0xtx0001")] = ledger.ErrReverted

	ts := testNow.UnixMilli()
	_, err := engine.RollGacha(context.Background(), actor, ts, signText(t, key, gachaMessage(ts)), validPermit())
	require.Equal(t, CodePaymentFailed, CodeOf(err))
	require.Equal(t, 0, gw.callCount("transferFrom"))
	require.Equal(t, 0, gw.callCount("mintCharacter"))
}

func TestRollSkillGachaDrawsFromAllowedPool(t *testing.T) {
	gw := newMockGateway()
	store := newMemStore()
	key, actor := newActor(t)

	for roll, wantType := range map[int]uint8{0: 0, 1: 4} {
		engine := NewEngine(gw, store, nil, nil,
			WithClock(func() time.Time { return testNow }),
			WithRoll(func(n int) int { return roll }),
		)
		ts := testNow.UnixMilli()
		result, err := engine.RollSkillGacha(context.Background(), actor, ts, signText(t, key, skillGachaMessage(ts)), validPermit())
		require.NoError(t, err)
		require.Equal(t, wantType, result.SkillType)
		require.Equal(t, uint8(1), result.Level)
	}
}

func TestBuyItemComputesCostServerSide(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	_, actor := newActor(t)

	result, err := engine.BuyItem(context.Background(), actor, 2, 3, validPermit())
	require.NoError(t, err)
	require.Equal(t, int64(2), result.ItemID)
	require.Equal(t, int64(3), result.Quantity)
	require.Equal(t, []string{"permit", "transferFrom", "mintItem"}, gw.calls)
}

func TestBuyItemRejectsBadQuantity(t *testing.T) {
	gw := newMockGateway()
	engine := newTestEngine(t, gw, newMemStore())
	_, actor := newActor(t)

	_, err := engine.BuyItem(context.Background(), actor, 1, 0, validPermit())
	require.Equal(t, CodeInvalidRequest, CodeOf(err))

	_, err = engine.BuyItem(context.Background(), actor, 1, maxShopQuantity+1, validPermit())
	require.Equal(t, CodeInvalidRequest, CodeOf(err))
	require.Empty(t, gw.calls)
}

func TestBuyItemMintFailureAfterPaymentIsLoud(t *testing.T) {
	gw := newMockGateway()
	gw.mintItemErr = errors.New("boom")
	engine := newTestEngine(t, gw, newMemStore())
	_, actor := newActor(t)

	_, err := engine.BuyItem(context.Background(), actor, 1, 1, validPermit())
	require.Equal(t, CodePaymentCollectedRewardFailed, CodeOf(err))
}
