// Package jobs names long-running work: deck IDs and the checks applied to
// IDs arriving from clients.
package jobs

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"

	"github.com/rs/zerolog/log"
)

// DeckPrefix starts every generated deck ID.
const DeckPrefix = "deck-"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// GenerateID creates a new cryptographically random ID with the given prefix.
// The prefix should include a trailing dash, e.g. "deck-".
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// NewDeckID returns a fresh deck ID.
func NewDeckID() string { return GenerateID(DeckPrefix) }

// ValidID reports whether id is safe to use as a storage key and path
// segment: 1-64 letters, digits, dashes or underscores.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}
