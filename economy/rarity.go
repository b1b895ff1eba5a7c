package economy

// Rarity is the ordered tier classification shared by character and skill
// collectibles.
type Rarity uint8

const (
	RarityCommon Rarity = iota
	RarityRare
	RarityEpic
	RarityLegendary
)

func (r Rarity) String() string {
	switch r {
	case RarityCommon:
		return "common"
	case RarityRare:
		return "rare"
	case RarityEpic:
		return "epic"
	case RarityLegendary:
		return "legendary"
	default:
		return "unknown"
	}
}

// characterWeights is the cumulative distribution for the primary gacha:
// 65/25/8/2 over common/rare/epic/legendary.
var characterWeights = []struct {
	upTo   int
	rarity Rarity
}{
	{65, RarityCommon},
	{90, RarityRare},
	{98, RarityEpic},
	{100, RarityLegendary},
}

// drawRarity maps a uniform roll in [0,100) onto the weight table.
func drawRarity(roll int) Rarity {
	for _, bucket := range characterWeights {
		if roll < bucket.upTo {
			return bucket.rarity
		}
	}
	return RarityLegendary
}

// skillPools groups skill types by tier. Skills never reach legendary.
var skillPools = map[Rarity][]uint8{
	RarityCommon: {0, 4}, // Dash, Floating
	RarityRare:   {1, 2}, // Disappear, Gap Manipulation
	RarityEpic:   {3},    // Pipe Destroyer
}

// skillGachaPool restricts the secondary gacha to its allowed candidates.
var skillGachaPool = []uint8{0, 4}

// skillRarityIn classifies a skill type against a pool table, reporting
// false for unknown types.
func skillRarityIn(pools map[Rarity][]uint8, skillType uint8) (Rarity, bool) {
	for rarity, pool := range pools {
		for _, t := range pool {
			if t == skillType {
				return rarity, true
			}
		}
	}
	return 0, false
}

// nextRarity returns the tier above r. Epic is the top skill tier: unlocking
// past it has no pool to draw from.
func nextRarity(r Rarity) (Rarity, bool) {
	switch r {
	case RarityCommon:
		return RarityRare, true
	case RarityRare:
		return RarityEpic, true
	default:
		return 0, false
	}
}
