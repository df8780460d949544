// internal/engine/cards.go
package engine

import (
	"fmt"
	"math/rand"
)

// Suit is one of the four french suits.
type Suit string

const (
	Spades   Suit = "s"
	Hearts   Suit = "h"
	Diamonds Suit = "d"
	Clubs    Suit = "c"
)

var suits = []Suit{Spades, Hearts, Diamonds, Clubs}

// Card is a single playing card. Rank runs 2..14 with 14 as the ace.
type Card struct {
	Rank int  `json:"rank"`
	Suit Suit `json:"suit"`
}

var rankNames = map[int]string{
	10: "T", 11: "J", 12: "Q", 13: "K", 14: "A",
}

// String renders the card in compact notation, e.g. "As" or "7d".
func (c Card) String() string {
	r, ok := rankNames[c.Rank]
	if !ok {
		r = fmt.Sprintf("%d", c.Rank)
	}
	return r + string(c.Suit)
}

// newDeck returns a full 52-card deck in shuffled order.
func newDeck(rng *rand.Rand) []Card {
	deck := make([]Card, 0, 52)
	for _, s := range suits {
		for r := 2; r <= 14; r++ {
			deck = append(deck, Card{Rank: r, Suit: s})
		}
	}
	rng.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})
	return deck
}
