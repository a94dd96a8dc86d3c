// Package card lays out and signs bingo cards.
package card

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jellynash/bingo/internal/deck"
	"github.com/jellynash/bingo/internal/randutil"
)

const (
	// Cells is the number of squares on a card.
	Cells = 25
	// FreeIndex is the center square; it holds Free and is always marked.
	FreeIndex = 12
	// Free is the sentinel value of the center square.
	Free = 0

	rowSize = 5
)

// ErrInvalidGrid is returned for grids that violate the column rules.
var ErrInvalidGrid = errors.New("card: invalid grid")

// Grid holds the card numbers in row-major order.
type Grid [Cells]int

// Card is a signed layout owned by one player in one game.
type Card struct {
	Grid      Grid
	Signature string
	SeedUsed  string
}

// Generate lays out a card from rng. Each column draws its numbers from its
// 15-ball range without replacement; N draws four and skips the center row.
func Generate(rng *randutil.Stream) Grid {
	var g Grid
	for c := range deck.ColumnCount {
		lo, hi := deck.ColumnRange(c)
		pool := make([]int, 0, deck.ColumnSpan)
		for n := lo; n <= hi; n++ {
			pool = append(pool, n)
		}

		take := rowSize
		if c == 2 {
			take = rowSize - 1
		}
		for k := range take {
			idx := rng.IntN(len(pool))
			v := pool[idx]
			pool = append(pool[:idx], pool[idx+1:]...)

			row := k
			if c == 2 && k >= 2 {
				row = k + 1
			}
			g[row*rowSize+c] = v
		}
	}
	g[FreeIndex] = Free
	return g
}

// ForPlayer derives, lays out and signs the card for playerID. The same game
// seed and player always produce the same card.
func ForPlayer(secret, gameSeed, gameID, playerID string) (*Card, error) {
	seed := randutil.CardSeed(gameSeed, playerID)
	rng, err := randutil.StreamFrom(seed)
	if err != nil {
		return nil, err
	}
	g := Generate(rng)
	return &Card{
		Grid:      g,
		Signature: Sign(secret, gameID, playerID, g),
		SeedUsed:  seed,
	}, nil
}

// Sign binds a grid to its game and owner.
func Sign(secret, gameID, playerID string, g Grid) string {
	return randutil.MAC(secret, gameID+"|"+playerID+"|"+g.Encode())
}

// Verify reports whether signature matches the grid and owner.
func Verify(secret, gameID, playerID string, g Grid, signature string) bool {
	return randutil.EqualMAC(Sign(secret, gameID, playerID, g), signature)
}

// IndexOf returns the cell holding n, or -1.
func (g Grid) IndexOf(n int) int {
	if n == Free {
		return -1
	}
	for i, v := range g {
		if v == n {
			return i
		}
	}
	return -1
}

// Validate checks column ranges, per-column uniqueness and the free center.
func (g Grid) Validate() error {
	if g[FreeIndex] != Free {
		return fmt.Errorf("%w: center is %d", ErrInvalidGrid, g[FreeIndex])
	}
	for c := range deck.ColumnCount {
		lo, hi := deck.ColumnRange(c)
		seen := make(map[int]bool, rowSize)
		for r := range rowSize {
			i := r*rowSize + c
			if i == FreeIndex {
				continue
			}
			v := g[i]
			if v < lo || v > hi {
				return fmt.Errorf("%w: %d outside column %s", ErrInvalidGrid, v, deck.Letter(lo))
			}
			if seen[v] {
				return fmt.Errorf("%w: %d repeated", ErrInvalidGrid, v)
			}
			seen[v] = true
		}
	}
	return nil
}

// Encode renders the grid as comma separated numbers. The encoding is also
// the signed message body, so it must not change.
func (g Grid) Encode() string {
	parts := make([]string, Cells)
	for i, v := range g {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// Parse reads a grid written by Encode.
func Parse(s string) (Grid, error) {
	var g Grid
	parts := strings.Split(s, ",")
	if len(parts) != Cells {
		return g, fmt.Errorf("%w: %d cells", ErrInvalidGrid, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return g, fmt.Errorf("%w: %v", ErrInvalidGrid, err)
		}
		g[i] = v
	}
	return g, g.Validate()
}
