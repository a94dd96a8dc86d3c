package randutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSeedIsPure(t *testing.T) {
	a := DeriveSeed("k", "g1", "n1")
	b := DeriveSeed("k", "g1", "n1")

	assert.Equal(t, a, b)
	assert.Equal(t, "302b667eea2e1d2cd68da074189bc728addf502dbb3f4d06d8cf21944c8120f5", a)
	assert.NotEqual(t, a, DeriveSeed("k", "g1", "n2"))
	assert.NotEqual(t, a, DeriveSeed("other", "g1", "n1"))
}

func TestStreamGoldenOutputs(t *testing.T) {
	s, err := StreamFrom(DeriveSeed("k", "g1", "n1"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0xce3177dd7ae505f0), s.Uint64())
	assert.Equal(t, uint64(0x8f5c020c0495fbbb), s.Uint64())
	assert.Equal(t, uint64(0xf1e4c9f21f0260b8), s.Uint64())
}

func TestStreamReproducible(t *testing.T) {
	seed := DeriveSeed("secret", "game", "nonce")
	a, err := StreamFrom(seed)
	require.NoError(t, err)
	b, err := StreamFrom(seed)
	require.NoError(t, err)

	for range 1000 {
		require.Equal(t, a.Uint64(), b.Uint64())
	}
}

func TestStreamRanges(t *testing.T) {
	s, err := StreamFrom(DeriveSeed("secret", "game", "nonce"))
	require.NoError(t, err)

	for range 10000 {
		f := s.Float64()
		require.GreaterOrEqual(t, f, 0.0)
		require.Less(t, f, 1.0)

		n := s.IntN(75)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 75)
	}
}

func TestStreamFromShortSeedIsPadded(t *testing.T) {
	a, err := StreamFrom("ff")
	require.NoError(t, err)
	b, err := StreamFrom("000000000000000000000000000000ff")
	require.NoError(t, err)
	assert.Equal(t, a.Uint64(), b.Uint64())
}

func TestStreamFromCorruptSeed(t *testing.T) {
	_, err := StreamFrom("not-a-hex-seed-at-all-not-a-hex!")
	assert.ErrorIs(t, err, ErrCorruptSeed)
}

func TestZeroStateIsAvoided(t *testing.T) {
	// Chosen so both halves cancel the xor constants.
	s, err := StreamFrom("243f6a8885a308d39e3779b97f4a7c15")
	require.NoError(t, err)
	assert.NotZero(t, s.Uint64()|s.Uint64())
}

func TestCardSeedDependsOnPlayer(t *testing.T) {
	seed := DeriveSeed("k", "g1", "n1")
	assert.NotEqual(t, CardSeed(seed, "p1"), CardSeed(seed, "p2"))
	assert.Equal(t, CardSeed(seed, "p1"), CardSeed(seed, "p1"))
	assert.True(t, EqualMAC(MAC("a", "b"), MAC("a", "b")))
	assert.False(t, EqualMAC(MAC("a", "b"), MAC("a", "c")))
}
