// internal/models/dinosaur.go
package models

// Dinosaur is one entry of the species catalog the decks are built from.
type Dinosaur struct {
	Species  string `json:"species"`
	ImageRef string `json:"image"`
}

// Card is a deck slot. Every species appears on exactly two cards of a deck.
type Card struct {
	Species  string `json:"species"`
	ImageRef string `json:"image"`
}

// Deck is the ordered card layout of a game. It is fixed once the game is created.
type Deck []Card

// CardFromDinosaur copies a catalog entry into a deck slot.
func CardFromDinosaur(d Dinosaur) Card {
	return Card{Species: d.Species, ImageRef: d.ImageRef}
}

// SpeciesCount returns how many cards of each species the deck holds.
func (d Deck) SpeciesCount() map[string]int {
	counts := make(map[string]int, len(d)/2)
	for _, c := range d {
		counts[c.Species]++
	}
	return counts
}
