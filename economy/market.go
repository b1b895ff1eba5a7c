package economy

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"flapgate/ledger"
)

// ListResult reports a marketplace listing.
type ListResult struct {
	TxRef ledger.TxRef `json:"txRef"`
}

// BuyResult reports a marketplace purchase.
type BuyResult struct {
	TxRef ledger.TxRef `json:"txRef"`
}

// CancelResult reports a listing cancellation.
type CancelResult struct {
	TxRef ledger.TxRef `json:"txRef"`
}

// List puts a skill up for sale. Preconditions fail closed: the token must be
// held by the actor (or custodied by the backend), must not already be
// listed, and the marketplace must hold approval before the listing is
// written.
func (e *Engine) List(ctx context.Context, actor common.Address, tokenID uint64, price *big.Int, signature string) (*ListResult, error) {
	started := e.now()

	if price == nil || price.Sign() <= 0 {
		err := Errf(CodeInvalidRequest, "price must be positive")
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}
	if !Verify(actor, listMessage(tokenID, price.String()), signature) {
		err := Errf(CodeInvalidSignature, "signature does not recover to actor")
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}

	id := new(big.Int).SetUint64(tokenID)
	owner, err := e.gw.SkillOwner(ctx, id)
	if err != nil {
		err = Wrap(CodeLedgerUnavailable, err, "read owner")
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}
	backend := e.gw.BackendAddress()
	if owner != actor && owner != backend {
		err := Errf(CodeNotOwner, "token %d not owned by actor", tokenID)
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}

	current, err := e.gw.Listing(ctx, id)
	if err != nil {
		err = Wrap(CodeLedgerUnavailable, err, "read listing")
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}
	if current.Listed() {
		err := Errf(CodeAlreadyListed, "token %d already listed", tokenID)
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}

	marketplace := e.gw.MarketplaceAddress()
	approved, err := e.gw.SkillApproved(ctx, id)
	if err != nil {
		err = Wrap(CodeLedgerUnavailable, err, "read approval")
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}
	if approved != marketplace {
		if owner != backend {
			// Only custodied tokens can be approved on the actor's behalf.
			err := Errf(CodeNotApproved, "token %d has not approved the marketplace", tokenID)
			return nil, e.finish(ctx, "market_list", actor, started, "", err)
		}
		if _, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
			return e.gw.SubmitApproveSkill(ctx, marketplace, id)
		}); err != nil {
			err = Wrap(CodeApprovalFailed, err, "marketplace approval failed")
			return nil, e.finish(ctx, "market_list", actor, started, "", err)
		}
	}

	// The chain will record the backend signer as seller, so the actor is
	// remembered durably before the listing is written. Recording first
	// means a crash can leave a stale record, never an unattributed listing.
	if err := e.store.RecordLister(ctx, tokenID, actor.Hex()); err != nil {
		err = Wrap(CodeLedgerUnavailable, err, "record lister")
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}

	ref, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
		return e.gw.SubmitList(ctx, id, price)
	})
	if err != nil {
		if clearErr := e.store.ClearLister(ctx, tokenID); clearErr != nil {
			e.logger.Error("lister record leaked", "token", tokenID, "error", clearErr)
		}
		err = Wrap(CodeLedgerUnavailable, err, "listing write failed")
		return nil, e.finish(ctx, "market_list", actor, started, "", err)
	}
	return &ListResult{TxRef: ref}, e.finish(ctx, "market_list", actor, started, ref, nil)
}

// sellerOf resolves the player behind a listing. Every listing placed through
// this service is written by the custodial backend signer, so the chain's
// seller field is the backend address and cannot identify the player; the
// durable lister record holds the real seller. A listing with no record
// resolves to the chain seller, which for a custodial listing is the backend
// address no player matches.
func (e *Engine) sellerOf(ctx context.Context, tokenID uint64, chainSeller common.Address) (common.Address, error) {
	recorded, ok, err := e.store.Lister(ctx, tokenID)
	if err != nil {
		return common.Address{}, Wrap(CodeLedgerUnavailable, err, "read lister record")
	}
	if ok {
		return common.HexToAddress(recorded), nil
	}
	return chainSeller, nil
}

// Buy purchases a listed skill. The payment value is the authoritative
// on-chain listing price; expectedPrice (when supplied) only guards the buyer
// against a listing that changed under them.
func (e *Engine) Buy(ctx context.Context, buyer common.Address, tokenID uint64, expectedPrice *big.Int, permit Permit) (*BuyResult, error) {
	started := e.now()

	id := new(big.Int).SetUint64(tokenID)
	listing, err := e.gw.Listing(ctx, id)
	if err != nil {
		err = Wrap(CodeLedgerUnavailable, err, "read listing")
		return nil, e.finish(ctx, "market_buy", buyer, started, "", err)
	}
	if !listing.Listed() {
		err := Errf(CodeNotListed, "token %d is not listed", tokenID)
		return nil, e.finish(ctx, "market_buy", buyer, started, "", err)
	}
	seller, err := e.sellerOf(ctx, tokenID, listing.Seller)
	if err != nil {
		return nil, e.finish(ctx, "market_buy", buyer, started, "", err)
	}
	if seller == buyer {
		err := Errf(CodeSelfPurchase, "seller cannot buy their own listing")
		return nil, e.finish(ctx, "market_buy", buyer, started, "", err)
	}
	if expectedPrice != nil && expectedPrice.Cmp(listing.Price) != 0 {
		err := Errf(CodePriceMismatch, "listing price is %s, buyer expected %s", listing.Price, expectedPrice)
		return nil, e.finish(ctx, "market_buy", buyer, started, "", err)
	}

	// The marketplace pulls payment inside buySkill, so the permit names it
	// as spender and there is no separate collect step.
	if err := e.authorize(ctx, buyer, e.gw.MarketplaceAddress(), listing.Price, permit); err != nil {
		return nil, e.finish(ctx, "market_buy", buyer, started, "", err)
	}

	ref, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
		return e.gw.SubmitBuy(ctx, id)
	})
	if err != nil {
		// The permit only raised an allowance; no funds moved. The ledger's
		// own listing check makes a stale read a late failure, not a
		// double-sale.
		err = Wrap(CodeNotListed, err, "purchase rejected by the ledger")
		return nil, e.finish(ctx, "market_buy", buyer, started, "", err)
	}
	if err := e.store.ClearLister(ctx, tokenID); err != nil {
		e.logger.Error("lister record leaked", "token", tokenID, "error", err)
	}
	return &BuyResult{TxRef: ref}, e.finish(ctx, "market_buy", buyer, started, ref, nil)
}

// Cancel clears a listing. Only the recorded seller may cancel.
func (e *Engine) Cancel(ctx context.Context, actor common.Address, tokenID uint64, signature string) (*CancelResult, error) {
	started := e.now()

	if !Verify(actor, cancelMessage(tokenID), signature) {
		err := Errf(CodeInvalidSignature, "signature does not recover to actor")
		return nil, e.finish(ctx, "market_cancel", actor, started, "", err)
	}

	id := new(big.Int).SetUint64(tokenID)
	listing, err := e.gw.Listing(ctx, id)
	if err != nil {
		err = Wrap(CodeLedgerUnavailable, err, "read listing")
		return nil, e.finish(ctx, "market_cancel", actor, started, "", err)
	}
	if !listing.Listed() {
		err := Errf(CodeNotListed, "token %d is not listed", tokenID)
		return nil, e.finish(ctx, "market_cancel", actor, started, "", err)
	}
	seller, err := e.sellerOf(ctx, tokenID, listing.Seller)
	if err != nil {
		return nil, e.finish(ctx, "market_cancel", actor, started, "", err)
	}
	if actor != seller {
		err := Errf(CodeNotSeller, "only the seller may cancel")
		return nil, e.finish(ctx, "market_cancel", actor, started, "", err)
	}

	ref, err := e.submitAndConfirm(ctx, func(ctx context.Context) (ledger.TxRef, error) {
		return e.gw.SubmitCancel(ctx, id)
	})
	if err != nil {
		err = Wrap(CodeLedgerUnavailable, err, "cancel failed")
		return nil, e.finish(ctx, "market_cancel", actor, started, "", err)
	}
	if err := e.store.ClearLister(ctx, tokenID); err != nil {
		e.logger.Error("lister record leaked", "token", tokenID, "error", err)
	}
	return &CancelResult{TxRef: ref}, e.finish(ctx, "market_cancel", actor, started, ref, nil)
}
