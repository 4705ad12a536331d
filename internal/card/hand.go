// Package card holds the player hand: an ordered sequence of single-use
// cards. What a card does is defined by its catalog def; applying the
// payload is the simulation engine's job.
package card

import (
	"fmt"

	"gridstead/internal/catalog"
)

// Card is a playable instance of a catalog card def.
type Card struct {
	ID  string `json:"id"`
	Def string `json:"def"`
}

// Hand is the ordered set of cards the player holds. Cards leave the hand
// exactly once, on play or discard.
type Hand struct {
	cat   *catalog.Catalog
	cards []Card
	next  int
}

func NewHand(cat *catalog.Catalog) *Hand {
	return &Hand{cat: cat}
}

// Draw appends a new card of the given def to the back of the hand.
func (h *Hand) Draw(defID string) (Card, error) {
	if _, ok := h.cat.Card(defID); !ok {
		return Card{}, fmt.Errorf("unknown card def: %s", defID)
	}
	h.next++
	c := Card{ID: fmt.Sprintf("card_%d", h.next), Def: defID}
	h.cards = append(h.cards, c)
	return c, nil
}

func (h *Hand) Get(id string) (Card, bool) {
	for _, c := range h.cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// Remove takes a card out of the hand, preserving the order of the rest.
func (h *Hand) Remove(id string) bool {
	for i, c := range h.cards {
		if c.ID == id {
			h.cards = append(h.cards[:i], h.cards[i+1:]...)
			return true
		}
	}
	return false
}

// Discard is Remove under its lifecycle name.
func (h *Hand) Discard(id string) bool { return h.Remove(id) }

// Cards returns the hand in order. The slice is a copy.
func (h *Hand) Cards() []Card {
	out := make([]Card, len(h.cards))
	copy(out, h.cards)
	return out
}

func (h *Hand) Len() int { return len(h.cards) }

// Restore rebuilds the hand from persisted cards, keeping order and fixing
// the id counter above the highest seen.
func (h *Hand) Restore(cards []Card, counter int) {
	h.cards = make([]Card, len(cards))
	copy(h.cards, cards)
	h.next = counter
}

// Counter exposes the id counter for persistence.
func (h *Hand) Counter() int { return h.next }
