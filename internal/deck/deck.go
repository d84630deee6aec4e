// Package deck builds shuffled, paired card decks from the species catalog.
package deck

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"github.com/jason-s-yu/dinomemo/internal/models"
)

// DefaultPairCount is the number of species per deck (24 cards).
const DefaultPairCount = 12

// ErrInsufficientCatalog is returned when the catalog has fewer distinct species than pairs requested.
var ErrInsufficientCatalog = errors.New("catalog has too few distinct species")

// NewRand returns a deterministic source for the given seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// NewSource returns a source seeded from crypto/rand, falling back to a fixed
// seed only if the system entropy source fails.
func NewSource() *rand.Rand {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return NewRand(1)
	}
	return NewRand(int64(binary.LittleEndian.Uint64(b[:])))
}

// Generate picks pairCount distinct species from catalog, duplicates them and
// shuffles the result. The catalog slice is not modified.
func Generate(catalog []models.Dinosaur, pairCount int, r *rand.Rand) (models.Deck, error) {
	if pairCount <= 0 {
		return nil, fmt.Errorf("pair count must be positive, got %d", pairCount)
	}

	pool := distinct(catalog)
	if len(pool) < pairCount {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCatalog, len(pool), pairCount)
	}

	shuffle(pool, r)
	selected := pool[:pairCount]

	deck := make(models.Deck, 0, 2*pairCount)
	for _, d := range selected {
		deck = append(deck, models.CardFromDinosaur(d))
	}
	for _, d := range selected {
		deck = append(deck, models.CardFromDinosaur(d))
	}
	shuffle(deck, r)
	return deck, nil
}

// shuffle is a Fisher-Yates shuffle: for i from the last index down to 1,
// swap element i with a uniformly chosen element in [0, i].
func shuffle[T any](s []T, r *rand.Rand) {
	for i := len(s) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// distinct copies the catalog, keeping the first entry of each species.
func distinct(catalog []models.Dinosaur) []models.Dinosaur {
	seen := make(map[string]bool, len(catalog))
	out := make([]models.Dinosaur, 0, len(catalog))
	for _, d := range catalog {
		if d.Species == "" || seen[d.Species] {
			continue
		}
		seen[d.Species] = true
		out = append(out, d)
	}
	return out
}
