// Package randutil derives the reproducible randomness every game is built from.
//
// A game's seed is an HMAC over its id and a creation nonce; the seed feeds an
// xorshift128+ stream that shuffles the deck and lays out cards. Given the same
// secret, game id and nonce the whole game replays identically.
package randutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// MAC returns the hex encoded HMAC-SHA256 of message under key.
func MAC(key, message string) string {
	m := hmac.New(sha256.New, []byte(key))
	m.Write([]byte(message))
	return hex.EncodeToString(m.Sum(nil))
}

// EqualMAC compares two hex MACs in constant time.
func EqualMAC(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// DeriveSeed returns the game seed for (gameID, nonce) under secret.
func DeriveSeed(secret, gameID, nonce string) string {
	return MAC(secret, gameID+"|"+nonce)
}

// GameSignature returns the key used to sign a game's draws.
func GameSignature(secret, gameID, nonce string) string {
	return MAC(secret, "draw:"+gameID+"|"+nonce)
}

// CardSeed returns the per-player seed used to lay out that player's card.
func CardSeed(gameSeed, playerID string) string {
	return MAC(gameSeed, "card:"+playerID)
}

// Nonce returns a fresh random hex nonce for a new game.
func Nonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Pin returns a random six digit join code.
func Pin() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	n := (uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])) % 1_000_000
	return fmt.Sprintf("%06d", n), nil
}
