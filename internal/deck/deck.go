// Package deck sequences the 75 bingo balls for a game.
package deck

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jellynash/bingo/internal/randutil"
)

// Size is the number of balls in a game.
const Size = 75

var (
	// ErrExhausted is returned when every ball has been drawn.
	ErrExhausted = errors.New("deck: no numbers remaining")
	// ErrInvalid is returned when a persisted deck is not a permutation of 1..75.
	ErrInvalid = errors.New("deck: invalid deck")
)

// Deck is an ordered permutation of the numbers 1..75. The ball drawn at
// sequence s (1-based) is d[s-1].
type Deck []int

// Shuffle returns a Fisher-Yates permutation of 1..75 driven by rng.
func Shuffle(rng *randutil.Stream) Deck {
	d := make(Deck, Size)
	for i := range d {
		d[i] = i + 1
	}
	for i := Size - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		d[i], d[j] = d[j], d[i]
	}
	return d
}

// FromSeed derives the deck for a hex game seed.
func FromSeed(seed string) (Deck, error) {
	rng, err := randutil.StreamFrom(seed)
	if err != nil {
		return nil, err
	}
	return Shuffle(rng), nil
}

// Next returns the sequence number and ball that follow current, the count of
// balls already drawn.
func (d Deck) Next(current int) (seq int, number int, err error) {
	if current < 0 {
		return 0, 0, fmt.Errorf("deck: negative sequence %d", current)
	}
	if current >= len(d) {
		return 0, 0, ErrExhausted
	}
	return current + 1, d[current], nil
}

// At returns the ball drawn at 1-based sequence seq.
func (d Deck) At(seq int) (int, bool) {
	if seq < 1 || seq > len(d) {
		return 0, false
	}
	return d[seq-1], true
}

// Validate checks that d is a bijection over 1..75.
func (d Deck) Validate() error {
	if len(d) != Size {
		return fmt.Errorf("%w: %d balls", ErrInvalid, len(d))
	}
	var seen [Size + 1]bool
	for i, n := range d {
		if n < 1 || n > Size {
			return fmt.Errorf("%w: ball %d out of range at %d", ErrInvalid, n, i)
		}
		if seen[n] {
			return fmt.Errorf("%w: ball %d repeated", ErrInvalid, n)
		}
		seen[n] = true
	}
	return nil
}

// Encode renders the deck for storage.
func (d Deck) Encode() string {
	parts := make([]string, len(d))
	for i, n := range d {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}

// Parse reads a deck written by Encode and validates it.
func Parse(s string) (Deck, error) {
	parts := strings.Split(s, ",")
	d := make(Deck, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		d[i] = n
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}
