package economy

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Verify reports whether signature recovers to actor over the EIP-191
// personal-message hash of message. Malformed input yields false, never an
// error: an unverifiable signature and a wrong one are the same failure.
//
// The message is always reconstructed server-side from known-good fields;
// callers must never feed a client-supplied message string through here for
// anything carrying an amount, token id, or deadline.
func Verify(actor common.Address, message string, signature string) bool {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return false
	}
	// Wallets emit V as 27/28; recovery wants 0/1.
	recovery := make([]byte, 65)
	copy(recovery, sig)
	if recovery[64] >= 27 {
		recovery[64] -= 27
	}
	if recovery[64] > 1 {
		return false
	}
	hash := accounts.TextHash([]byte(message))
	pub, err := ethcrypto.SigToPub(hash, recovery)
	if err != nil {
		return false
	}
	return ethcrypto.PubkeyToAddress(*pub) == actor
}

// checkFreshness enforces the tolerance window on time-boxed actions.
func checkFreshness(now time.Time, timestampMillis int64, tolerance time.Duration) error {
	issued := time.UnixMilli(timestampMillis)
	drift := now.Sub(issued)
	if drift < 0 {
		drift = -drift
	}
	if drift > tolerance {
		return Errf(CodeExpired, "signature timestamp outside %s window", tolerance)
	}
	return nil
}

// Canonical action messages. These mirror the strings the game client signs.

func claimMessage(timestamp int64) string {
	return fmt.Sprintf("Claim faucet at %d", timestamp)
}

func rewardMessage(score int64, timestamp int64) string {
	return fmt.Sprintf("Claim reward for score %d at %d", score, timestamp)
}

func gachaMessage(timestamp int64) string {
	return fmt.Sprintf("Roll gacha at %d", timestamp)
}

func skillGachaMessage(timestamp int64) string {
	return fmt.Sprintf("Roll skill gacha at %d", timestamp)
}

func levelUpMessage(a, b uint64) string {
	return fmt.Sprintf("Level up skills: %d, %d", a, b)
}

func unlockMessage(a, b uint64) string {
	return fmt.Sprintf("Unlock skill: %d, %d", a, b)
}

func listMessage(tokenID uint64, price string) string {
	return fmt.Sprintf("List skill %d for %s", tokenID, price)
}

func cancelMessage(tokenID uint64) string {
	return fmt.Sprintf("Cancel listing %d", tokenID)
}
