package randutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	goldenRatio64 = 0x9e3779b97f4a7c15
	piFraction64  = 0x243f6a8885a308d3

	seedHexChars = 32
)

// ErrCorruptSeed is returned when a stored seed is not valid hex.
var ErrCorruptSeed = errors.New("randutil: corrupt seed")

// Stream is an xorshift128+ generator. All state arithmetic is fixed-width
// uint64 with wrapping overflow, so any port using the same constants produces
// the same sequence bit for bit.
//
// Stream implements math/rand/v2.Source, but game code must use IntN rather
// than rand.Rand helpers: the index contract is (u53 * n) >> 53.
type Stream struct {
	s0, s1 uint64
}

// StreamFrom seeds a stream from the first 128 bits of a hex seed.
func StreamFrom(seed string) (*Stream, error) {
	if len(seed) > seedHexChars {
		seed = seed[:seedHexChars]
	}
	seed = strings.Repeat("0", seedHexChars-len(seed)) + seed

	hi, err := strconv.ParseUint(seed[:16], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSeed, err)
	}
	lo, err := strconv.ParseUint(seed[16:], 16, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSeed, err)
	}

	s := &Stream{
		s0: lo ^ goldenRatio64,
		s1: hi ^ piFraction64,
	}
	if s.s0 == 0 && s.s1 == 0 {
		s.s1 = 1
	}
	return s, nil
}

// Uint64 advances the generator and returns the next 64-bit output.
func (s *Stream) Uint64() uint64 {
	x, y := s.s0, s.s1
	s.s0 = y
	x ^= x << 23
	s.s1 = x ^ y ^ (x >> 17) ^ (y >> 26)
	return s.s1 + y
}

// Float64 returns a value in [0, 1) built from the top 53 bits of the next output.
func (s *Stream) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// IntN returns a value in [0, n). It equals floor(Float64() * n) computed exactly.
func (s *Stream) IntN(n int) int {
	if n <= 0 {
		panic("randutil: invalid argument to IntN")
	}
	return int(((s.Uint64() >> 11) * uint64(n)) >> 53)
}
