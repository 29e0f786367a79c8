package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// HashSeed returns the hex SHA-256 of a server seed, the commitment format
// the upstream publishes before a round starts.
func HashSeed(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// VerifySeed reports whether a revealed seed matches its published
// commitment hash.
func VerifySeed(seed, hash string) bool {
	return HashSeed(seed) == hash
}

// GenerateServerSeed produces a random seed and its commitment, in the same
// format the upstream uses. Only exercised by tests and tooling; the
// observer never mints seeds for live rounds.
func GenerateServerSeed() (seed string, hash string) {
	bytes := make([]byte, 32)
	rand.Read(bytes)
	seed = hex.EncodeToString(bytes)
	return seed, HashSeed(seed)
}
