// Package typeid generates prefixed, time-sortable entity identifiers such as
// game_01h5n0et5q6mt3v7ms1234abcd.
package typeid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Base32 alphabet used by TypeID (Crockford's base32)
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

const suffixLen = 26

// Entity prefixes.
const (
	Game    = "game"
	Player  = "player"
	Card    = "card"
	Draw    = "draw"
	Claim   = "claim"
	Penalty = "penalty"
	Session = "session"
)

// Source produces the UUIDs behind generated IDs.
type Source func() (uuid.UUID, error)

// Generator creates IDs from a Source.
type Generator struct {
	source Source
}

// NewGenerator returns a generator backed by source, or UUIDv7 when nil.
func NewGenerator(source Source) *Generator {
	if source == nil {
		source = uuid.NewV7
	}
	return &Generator{source: source}
}

var defaultGenerator = NewGenerator(nil)

// New returns a fresh ID with the given prefix.
func New(prefix string) string {
	return defaultGenerator.New(prefix)
}

// New returns a fresh ID with the given prefix.
func (g *Generator) New(prefix string) string {
	u, err := g.source()
	if err != nil {
		panic("typeid: failed to generate uuid: " + err.Error())
	}
	return prefix + "_" + encodeBase32(u)
}

// encodeBase32 encodes the 128 bits as 26 characters; the value is padded
// with two leading zero bits so the first character is at most '7'.
func encodeBase32(data [16]byte) string {
	bit := func(k int) byte {
		if k < 0 {
			return 0
		}
		return (data[k/8] >> (7 - k%8)) & 1
	}

	out := make([]byte, suffixLen)
	for i := range suffixLen {
		var v byte
		start := i*5 - 2
		for k := start; k < start+5; k++ {
			v = v<<1 | bit(k)
		}
		out[i] = alphabet[v]
	}
	return string(out)
}

// Validate checks an ID has the expected prefix and a well formed suffix.
func Validate(id, prefix string) error {
	p, suffix, ok := strings.Cut(id, "_")
	if !ok || p != prefix {
		return fmt.Errorf("id %q must have prefix %q", id, prefix)
	}
	if len(suffix) != suffixLen {
		return fmt.Errorf("id suffix must be exactly %d characters, got %d", suffixLen, len(suffix))
	}
	if suffix[0] > '7' {
		return fmt.Errorf("id suffix first character must be 0-7, got %c", suffix[0])
	}
	for i, char := range suffix {
		if !strings.ContainsRune(alphabet, char) {
			return fmt.Errorf("invalid character %c at position %d", char, i)
		}
	}
	return nil
}
