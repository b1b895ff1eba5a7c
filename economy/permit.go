package economy

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"flapgate/ledger"
)

// Permit is the client-supplied slice of an ERC-2612 authorization. Only the
// signature and deadline cross the trust boundary; owner, spender and value
// are always derived server-side.
type Permit struct {
	Signature string `json:"signature"`
	Deadline  int64  `json:"deadline"`
}

// splitSignature decodes a 65-byte hex signature into its r, s, v scalars.
func splitSignature(signature string) (v uint8, r, s [32]byte, err error) {
	raw, decodeErr := hexutil.Decode(signature)
	if decodeErr != nil {
		return 0, r, s, Wrap(CodeInvalidSignatureEncoding, decodeErr, "permit signature is not valid hex")
	}
	if len(raw) != 65 {
		return 0, r, s, Errf(CodeInvalidSignatureEncoding, "permit signature must be 65 bytes, got %d", len(raw))
	}
	copy(r[:], raw[0:32])
	copy(s[:], raw[32:64])
	v = raw[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return 0, r, s, Errf(CodeInvalidSignatureEncoding, "permit recovery id out of range")
	}
	return v, r, s, nil
}

// authorize submits the permit for owner -> spender over value and waits for
// it to land. The ledger checks the permit nonce and signature; a confirmed
// permit is consumed exactly once.
func (e *Engine) authorize(ctx context.Context, owner, spender common.Address, value *big.Int, permit Permit) error {
	v, r, s, err := splitSignature(permit.Signature)
	if err != nil {
		return err
	}
	deadline := big.NewInt(permit.Deadline)
	if permit.Deadline <= e.now().Unix() {
		return Errf(CodeExpired, "permit deadline already passed")
	}

	ref, err := e.gw.SubmitPermit(ctx, ledger.PermitCall{
		Owner:    owner,
		Spender:  spender,
		Value:    value,
		Deadline: deadline,
		V:        v,
		R:        r,
		S:        s,
	})
	if err != nil {
		return Wrap(CodePaymentFailed, err, "permit submission rejected")
	}
	if err := e.gw.WaitConfirmed(ctx, ref); err != nil {
		return Wrap(CodePaymentFailed, err, "permit not confirmed")
	}
	return nil
}

// collect moves exactly value from owner to the backend account under the
// freshly-confirmed permit. A revert here is overwhelmingly an insufficient
// balance.
func (e *Engine) collect(ctx context.Context, owner common.Address, value *big.Int) error {
	ref, err := e.gw.SubmitTransferFrom(ctx, owner, e.gw.BackendAddress(), value)
	if err != nil {
		return classifyTransferErr(err)
	}
	if err := e.gw.WaitConfirmed(ctx, ref); err != nil {
		return classifyTransferErr(err)
	}
	return nil
}

// authorizeAndCollect runs the strict two-step payment pattern: permit, wait,
// transfer, wait. No reward step runs unless both land.
func (e *Engine) authorizeAndCollect(ctx context.Context, owner common.Address, value *big.Int, permit Permit) error {
	if err := e.authorize(ctx, owner, e.gw.BackendAddress(), value, permit); err != nil {
		return err
	}
	return e.collect(ctx, owner, value)
}

func classifyTransferErr(err error) error {
	if errors.Is(err, ledger.ErrReverted) || isEstimateRevert(err) {
		return Wrap(CodeInsufficientFunds, err, "payment transfer reverted")
	}
	return Wrap(CodePaymentFailed, err, "payment transfer failed")
}

// isEstimateRevert spots calls rejected during gas estimation, which runs
// the transaction and surfaces reverts before submission. Only the node's
// revert message counts: estimation can also fail on transport errors, and
// those are not evidence about the payer's balance.
func isEstimateRevert(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
