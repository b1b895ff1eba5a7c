package economy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"flapgate/ledger"
)

// maxShopQuantity bounds one purchase.
const maxShopQuantity = 100

// ShopResult reports an item purchase.
type ShopResult struct {
	ItemID   int64        `json:"itemId"`
	Quantity int64        `json:"quantity"`
	TxRef    ledger.TxRef `json:"txRef"`
}

// BuyItem collects unitCost * quantity and mints the items. The cost is
// computed from the server-side price table; the permit authenticates the
// buyer, so no outer signature is required.
func (e *Engine) BuyItem(ctx context.Context, actor common.Address, itemID int64, quantity int64, permit Permit) (*ShopResult, error) {
	started := e.now()

	if itemID < 0 || quantity <= 0 || quantity > maxShopQuantity {
		err := Errf(CodeInvalidRequest, "item %d quantity %d outside accepted range", itemID, quantity)
		return nil, e.finish(ctx, "shop_buy", actor, started, "", err)
	}

	cost := new(big.Int).Mul(ItemUnitCost, big.NewInt(quantity))
	ref, err := e.runPaid(ctx, paidAction{
		saga:   "shop_buy",
		actor:  actor,
		cost:   cost,
		permit: permit,
		mutate: func(ctx context.Context) (ledger.TxRef, error) {
			return e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
				return e.gw.SubmitMintItem(ctx, actor, big.NewInt(itemID), big.NewInt(quantity))
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return &ShopResult{ItemID: itemID, Quantity: quantity, TxRef: ref}, nil
}
