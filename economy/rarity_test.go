package economy

import (
	crand "crypto/rand"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDrawRarityBoundaries(t *testing.T) {
	require.Equal(t, RarityCommon, drawRarity(0))
	require.Equal(t, RarityCommon, drawRarity(64))
	require.Equal(t, RarityRare, drawRarity(65))
	require.Equal(t, RarityRare, drawRarity(89))
	require.Equal(t, RarityEpic, drawRarity(90))
	require.Equal(t, RarityEpic, drawRarity(97))
	require.Equal(t, RarityLegendary, drawRarity(98))
	require.Equal(t, RarityLegendary, drawRarity(99))
}

func TestDrawRarityDistribution(t *testing.T) {
	var seed [32]byte
	_, err := crand.Read(seed[:])
	require.NoError(t, err)
	rng := rand.New(rand.NewChaCha8(seed))

	const trials = 100_000
	counts := map[Rarity]int{}
	for i := 0; i < trials; i++ {
		counts[drawRarity(rng.IntN(100))]++
	}

	expected := map[Rarity]float64{
		RarityCommon:    0.65,
		RarityRare:      0.25,
		RarityEpic:      0.08,
		RarityLegendary: 0.02,
	}
	for rarity, want := range expected {
		got := float64(counts[rarity]) / trials
		require.InDelta(t, want, got, 0.01, "rarity %s drifted: got %.4f want %.2f", rarity, got, want)
	}
}

func TestSkillRarity(t *testing.T) {
	for _, skillType := range []uint8{0, 4} {
		r, ok := skillRarityIn(skillPools, skillType)
		require.True(t, ok)
		require.Equal(t, RarityCommon, r)
	}
	for _, skillType := range []uint8{1, 2} {
		r, ok := skillRarityIn(skillPools, skillType)
		require.True(t, ok)
		require.Equal(t, RarityRare, r)
	}
	r, ok := skillRarityIn(skillPools, 3)
	require.True(t, ok)
	require.Equal(t, RarityEpic, r)

	_, ok = skillRarityIn(skillPools, 42)
	require.False(t, ok)
}

func TestNextRarityTopsOutAtEpic(t *testing.T) {
	next, ok := nextRarity(RarityCommon)
	require.True(t, ok)
	require.Equal(t, RarityRare, next)

	next, ok = nextRarity(RarityRare)
	require.True(t, ok)
	require.Equal(t, RarityEpic, next)

	_, ok = nextRarity(RarityEpic)
	require.False(t, ok)
	_, ok = nextRarity(RarityLegendary)
	require.False(t, ok)
}
