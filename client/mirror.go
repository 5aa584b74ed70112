package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"corkboard/api/internal/reorder"
	"corkboard/api/internal/store"
)

// Mirror keeps a local copy of the board and applies drag-and-drop moves
// optimistically: the local lists are recomputed first, then the server is
// brought up to date. A failed sync raises the dirty flag instead of
// rolling back; Refresh reloads the authoritative state and clears it.
type Mirror struct {
	client *Client

	mu      sync.Mutex
	board   Board
	columns []Column
	dirty   bool
}

func NewMirror(client *Client) *Mirror {
	return &Mirror{client: client}
}

// Load fetches the board and replaces the local copy. The dirty flag is
// cleared: the mirror now matches the server.
func (m *Mirror) Load(ctx context.Context) error {
	board, err := m.client.Board(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.board = board
	m.columns = board.Columns
	m.dirty = false
	return nil
}

// Refresh is Load under its reconciliation name.
func (m *Mirror) Refresh(ctx context.Context) error {
	return m.Load(ctx)
}

// Dirty reports whether a sync failed since the last successful Load.
func (m *Mirror) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

func (m *Mirror) Board() Board {
	m.mu.Lock()
	defer m.mu.Unlock()
	board := m.board
	board.Columns = cloneColumns(m.columns)
	return board
}

// Columns returns a copy of the local column state.
func (m *Mirror) Columns() []Column {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneColumns(m.columns)
}

// MoveCard applies a drag result locally and pushes it to the server. The
// moved card is written first so its column assignment lands even when the
// later bulk writes fail; then the destination column's full order, then
// the source's. Any failed step raises the dirty flag.
func (m *Mirror) MoveCard(ctx context.Context, sourceColumnID, destColumnID string, sourceIndex, destIndex int) error {
	m.mu.Lock()

	sourcePos := m.columnIndex(sourceColumnID)
	destPos := m.columnIndex(destColumnID)
	if sourcePos < 0 || destPos < 0 {
		m.mu.Unlock()
		return fmt.Errorf("mirror: unknown column")
	}

	result, err := reorder.Apply(reorder.Move{
		SourceColumnID: sourceColumnID,
		DestColumnID:   destColumnID,
		SourceIndex:    sourceIndex,
		DestIndex:      destIndex,
	}, toStoreCards(m.columns[sourcePos].Cards), toStoreCards(m.columns[destPos].Cards))
	if errors.Is(err, reorder.ErrNoChange) {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}

	// Optimistic local update.
	m.columns[sourcePos].Cards = fromStoreCards(result.Source)
	if !result.SameColumn {
		m.columns[destPos].Cards = fromStoreCards(result.Dest)
	}
	moved := result.Moved
	sourceOrder := placementsOf(result.Source)
	var destOrder []CardPlacement
	if !result.SameColumn {
		destOrder = placementsOf(result.Dest)
	}
	m.mu.Unlock()

	// The moved card goes first. If this write fails nothing else is sent:
	// the server still has a consistent pre-move board.
	movedColumn := moved.ColumnID
	movedPosition := moved.Position
	if _, err := m.client.UpdateCard(ctx, moved.ID, CardUpdate{
		ColumnID: &movedColumn,
		Position: &movedPosition,
	}); err != nil {
		m.markDirty()
		return fmt.Errorf("sync moved card: %w", err)
	}

	if !result.SameColumn {
		if err := m.client.ReplaceCardOrder(ctx, destColumnID, destOrder); err != nil {
			m.markDirty()
			return fmt.Errorf("sync destination column: %w", err)
		}
	}
	if err := m.client.ReplaceCardOrder(ctx, sourceColumnID, sourceOrder); err != nil {
		m.markDirty()
		return fmt.Errorf("sync source column: %w", err)
	}
	return nil
}

// AddColumn creates a column on the server and appends it locally.
func (m *Mirror) AddColumn(ctx context.Context, name string) (Column, error) {
	column, err := m.client.CreateColumn(ctx, name)
	if err != nil {
		return Column{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.columns = append(m.columns, column)
	return column, nil
}

// AddCard creates a card on the server and appends it to the local column.
func (m *Mirror) AddCard(ctx context.Context, columnID, title, description string) (Card, error) {
	card, err := m.client.CreateCard(ctx, columnID, title, description)
	if err != nil {
		return Card{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos := m.columnIndex(columnID); pos >= 0 {
		m.columns[pos].Cards = append(m.columns[pos].Cards, card)
	}
	return card, nil
}

// EditCard updates a card on the server and patches the local copy.
func (m *Mirror) EditCard(ctx context.Context, cardID string, update CardUpdate) (Card, error) {
	card, err := m.client.UpdateCard(ctx, cardID, update)
	if err != nil {
		return Card{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.columns {
		for j := range m.columns[i].Cards {
			if m.columns[i].Cards[j].ID == cardID {
				m.columns[i].Cards[j] = card
				return card, nil
			}
		}
	}
	return card, nil
}

// RemoveColumn deletes a column on the server and locally, closing the
// position gap the same way the server does.
func (m *Mirror) RemoveColumn(ctx context.Context, columnID string) error {
	if err := m.client.DeleteColumn(ctx, columnID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	pos := m.columnIndex(columnID)
	if pos < 0 {
		return nil
	}
	m.columns = append(m.columns[:pos], m.columns[pos+1:]...)
	for i := range m.columns {
		m.columns[i].Position = i
	}
	return nil
}

// RemoveCard deletes a card on the server and locally, renumbering the
// remaining cards of its column.
func (m *Mirror) RemoveCard(ctx context.Context, cardID string) error {
	if err := m.client.DeleteCard(ctx, cardID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.columns {
		for j := range m.columns[i].Cards {
			if m.columns[i].Cards[j].ID != cardID {
				continue
			}
			cards := m.columns[i].Cards
			m.columns[i].Cards = append(cards[:j], cards[j+1:]...)
			for k := range m.columns[i].Cards {
				m.columns[i].Cards[k].Position = k
			}
			return nil
		}
	}
	return nil
}

func (m *Mirror) markDirty() {
	m.mu.Lock()
	m.dirty = true
	m.mu.Unlock()
}

// columnIndex requires m.mu held.
func (m *Mirror) columnIndex(columnID string) int {
	for i := range m.columns {
		if m.columns[i].ID == columnID {
			return i
		}
	}
	return -1
}

func toStoreCards(cards []Card) []store.Card {
	out := make([]store.Card, len(cards))
	for i, card := range cards {
		out[i] = store.Card{
			ID:          card.ID,
			Title:       card.Title,
			Description: card.Description,
			ColumnID:    card.ColumnID,
			Position:    card.Position,
			CheckBox:    card.CheckBox,
			Important:   card.Important,
		}
	}
	return out
}

func fromStoreCards(cards []store.Card) []Card {
	out := make([]Card, len(cards))
	for i, card := range cards {
		out[i] = Card{
			ID:          card.ID,
			Title:       card.Title,
			Description: card.Description,
			ColumnID:    card.ColumnID,
			Position:    card.Position,
			CheckBox:    card.CheckBox,
			Important:   card.Important,
		}
	}
	return out
}

func placementsOf(cards []store.Card) []CardPlacement {
	out := make([]CardPlacement, len(cards))
	for i, card := range cards {
		out[i] = CardPlacement{ID: card.ID, Position: card.Position}
	}
	return out
}

func cloneColumns(columns []Column) []Column {
	out := make([]Column, len(columns))
	for i, column := range columns {
		out[i] = column
		out[i].Cards = append([]Card(nil), column.Cards...)
	}
	return out
}
