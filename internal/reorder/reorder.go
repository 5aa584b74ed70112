// Package reorder computes the new card orderings that result from a
// drag-and-drop move. It is pure: no I/O, no clock, inputs are never
// mutated. Persisting the result is the caller's job.
package reorder

import (
	"errors"
	"fmt"

	"corkboard/api/internal/store"
)

var (
	// ErrNoChange reports that source and destination are the same slot.
	// Callers treat it as "nothing to do", not a failure.
	ErrNoChange = errors.New("reorder: no change")

	// ErrIndexOutOfRange reports a source index that names no card. The
	// move is aborted with no lists produced.
	ErrIndexOutOfRange = errors.New("reorder: index out of range")
)

// Move describes a drag result: where the card came from and where it was
// dropped. Indexes are 0-based offsets into the ordered card lists.
type Move struct {
	SourceColumnID string
	DestColumnID   string
	SourceIndex    int
	DestIndex      int
}

// Result carries the recomputed lists. For a same-column move Dest is nil
// and Source holds the single renumbered list. Every returned list is
// renumbered 0..n-1 with no gaps.
type Result struct {
	Moved      store.Card
	Source     []store.Card
	Dest       []store.Card
	SameColumn bool
}

// Apply computes the move. source and dest are the current ordered card
// lists of the two columns; for a same-column move dest is ignored.
func Apply(move Move, source, dest []store.Card) (Result, error) {
	if move.SourceColumnID == move.DestColumnID && move.SourceIndex == move.DestIndex {
		return Result{}, ErrNoChange
	}
	if move.SourceIndex < 0 || move.SourceIndex >= len(source) {
		return Result{}, fmt.Errorf("%w: source index %d in list of %d", ErrIndexOutOfRange, move.SourceIndex, len(source))
	}

	if move.SourceColumnID == move.DestColumnID {
		cards := append([]store.Card(nil), source...)
		moved := cards[move.SourceIndex]
		cards = append(cards[:move.SourceIndex], cards[move.SourceIndex+1:]...)
		cards = insertAt(cards, clampIndex(move.DestIndex, len(cards)), moved)
		renumber(cards)
		return Result{
			Moved:      cards[indexOf(cards, moved.ID)],
			Source:     cards,
			SameColumn: true,
		}, nil
	}

	sourceCards := append([]store.Card(nil), source...)
	destCards := append([]store.Card(nil), dest...)

	moved := sourceCards[move.SourceIndex]
	sourceCards = append(sourceCards[:move.SourceIndex], sourceCards[move.SourceIndex+1:]...)

	moved.ColumnID = move.DestColumnID
	destCards = insertAt(destCards, clampIndex(move.DestIndex, len(destCards)), moved)

	renumber(sourceCards)
	renumber(destCards)

	return Result{
		Moved:  destCards[indexOf(destCards, moved.ID)],
		Source: sourceCards,
		Dest:   destCards,
	}, nil
}

// ValidOrder checks that placements describe a complete 0-based contiguous
// ordering: positions are exactly 0..n-1 and no card is listed twice.
func ValidOrder(placements []store.CardPlacement) error {
	seenID := make(map[string]struct{}, len(placements))
	seenPos := make([]bool, len(placements))
	for _, placement := range placements {
		if _, ok := seenID[placement.ID]; ok {
			return fmt.Errorf("card %s listed twice", placement.ID)
		}
		seenID[placement.ID] = struct{}{}
		if placement.Position < 0 || placement.Position >= len(placements) {
			return fmt.Errorf("position %d outside 0..%d", placement.Position, len(placements)-1)
		}
		if seenPos[placement.Position] {
			return fmt.Errorf("position %d occupied twice", placement.Position)
		}
		seenPos[placement.Position] = true
	}
	return nil
}

func insertAt(cards []store.Card, index int, card store.Card) []store.Card {
	cards = append(cards, store.Card{})
	copy(cards[index+1:], cards[index:])
	cards[index] = card
	return cards
}

func clampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

func renumber(cards []store.Card) {
	for i := range cards {
		cards[i].Position = i
	}
}

func indexOf(cards []store.Card, id string) int {
	for i := range cards {
		if cards[i].ID == id {
			return i
		}
	}
	return -1
}
