package economy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"flapgate/ledger"
)

// ItemUsage is one session consumption report.
type ItemUsage struct {
	ItemID int64 `json:"tokenId"`
	Uses   int64 `json:"uses"`
}

// SettleItemResult is the per-item outcome of a settlement batch.
type SettleItemResult struct {
	ItemID int64        `json:"tokenId"`
	Status string       `json:"status"` // burned, skipped, error
	Amount string       `json:"amount,omitempty"`
	TxRef  ledger.TxRef `json:"txRef,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// SettleItems burns consumed items at session end, clamped per item to the
// actor's current on-chain balance. A failing item is reported and the batch
// continues: losing one burn must not strand the rest of the session.
func (e *Engine) SettleItems(ctx context.Context, actor common.Address, usage []ItemUsage) ([]SettleItemResult, error) {
	started := e.now()

	results := make([]SettleItemResult, 0, len(usage))
	failed := false
	for _, item := range usage {
		results = append(results, e.settleOne(ctx, actor, item))
		if results[len(results)-1].Status == "error" {
			failed = true
		}
	}

	outcome := "ok"
	if failed {
		outcome = "partial"
	}
	e.metrics.ObserveSaga("items_settle", outcome, e.now().Sub(started))
	e.logger.Info("session settlement finished", "actor", actor.Hex(), "items", len(usage), "outcome", outcome)
	return results, nil
}

func (e *Engine) settleOne(ctx context.Context, actor common.Address, item ItemUsage) SettleItemResult {
	if item.ItemID < 0 || item.Uses < 0 {
		return SettleItemResult{ItemID: item.ItemID, Status: "error", Error: "negative item id or use count"}
	}
	if item.Uses == 0 {
		return SettleItemResult{ItemID: item.ItemID, Status: "skipped"}
	}

	id := big.NewInt(item.ItemID)
	balance, err := e.gw.ItemBalance(ctx, actor, id)
	if err != nil {
		return SettleItemResult{ItemID: item.ItemID, Status: "error", Error: err.Error()}
	}

	// Never burn past the actor's balance, whatever the session claims.
	burn := big.NewInt(item.Uses)
	if balance.Cmp(burn) < 0 {
		burn = new(big.Int).Set(balance)
	}
	if burn.Sign() == 0 {
		return SettleItemResult{ItemID: item.ItemID, Status: "skipped"}
	}

	ref, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
		return e.gw.SubmitBurnItem(ctx, actor, id, burn)
	})
	if err != nil {
		return SettleItemResult{ItemID: item.ItemID, Status: "error", Error: err.Error()}
	}
	return SettleItemResult{ItemID: item.ItemID, Status: "burned", Amount: burn.String(), TxRef: ref}
}
