package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABI surfaces for the five game contracts, trimmed to the methods the
// gateway actually calls.

const flapTokenABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"nonces","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"permit","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"},{"name":"value","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const flappymonABI = `[
  {"type":"function","name":"safeMint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"rarity","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

const skillNFTABI = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"skillType","type":"uint8"},{"name":"level","type":"uint8"}],"outputs":[]},
  {"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"getSkillData","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"skillType","type":"uint8"},{"name":"skillLevel","type":"uint8"}]},
  {"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"nextTokenId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const gameItemABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"}],"outputs":[]}
]`

const marketplaceABI = `[
  {"type":"function","name":"getListing","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"seller","type":"address"},{"name":"price","type":"uint256"}]},
  {"type":"function","name":"listSkill","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"buySkill","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"cancelListing","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]}
]`

// contractABIs bundles the parsed ABIs used by the client.
type contractABIs struct {
	flap        abi.ABI
	flappymon   abi.ABI
	skill       abi.ABI
	item        abi.ABI
	marketplace abi.ABI
}

func parseContractABIs() (*contractABIs, error) {
	parsed := &contractABIs{}
	for _, entry := range []struct {
		name string
		raw  string
		dst  *abi.ABI
	}{
		{"flap", flapTokenABI, &parsed.flap},
		{"flappymon", flappymonABI, &parsed.flappymon},
		{"skill", skillNFTABI, &parsed.skill},
		{"item", gameItemABI, &parsed.item},
		{"marketplace", marketplaceABI, &parsed.marketplace},
	} {
		decoded, err := abi.JSON(strings.NewReader(entry.raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s abi: %w", entry.name, err)
		}
		*entry.dst = decoded
	}
	return parsed, nil
}
