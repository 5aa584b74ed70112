package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"corkboard/api/internal/store"
)

// fakeStore is an in-memory dataStore/refreshStore for service and handler
// tests. Semantics mirror the Postgres implementation: missing rows read as
// sql.ErrNoRows, lists come back ordered by position.
type fakeStore struct {
	mu          sync.Mutex
	users       map[string]store.User
	boards      map[string]store.Board
	columns     map[string]store.Column
	cards       map[string]store.Card
	attachments map[string]store.Attachment
	refresh     map[string]refreshRecord
	revoked     map[string]bool
}

type refreshRecord struct {
	userID    string
	expiresAt time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[string]store.User),
		boards:      make(map[string]store.Board),
		columns:     make(map[string]store.Column),
		cards:       make(map[string]store.Card),
		attachments: make(map[string]store.Attachment),
		refresh:     make(map[string]refreshRecord),
		revoked:     make(map[string]bool),
	}
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetBoardByOwner(_ context.Context, ownerID string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, board := range f.boards {
		if board.OwnerID == ownerID {
			return board, nil
		}
	}
	return store.Board{}, sql.ErrNoRows
}

func (f *fakeStore) GetBoard(_ context.Context, boardID string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[boardID]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	return board, nil
}

func (f *fakeStore) CreateBoard(_ context.Context, board store.Board) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.boards[board.ID] = board
	return nil
}

func (f *fakeStore) RenameBoard(_ context.Context, boardID, name string) (store.Board, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	board, ok := f.boards[boardID]
	if !ok {
		return store.Board{}, sql.ErrNoRows
	}
	board.Name = name
	f.boards[boardID] = board
	return board, nil
}

func (f *fakeStore) ListColumns(_ context.Context, boardID string) ([]store.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Column, 0)
	for _, column := range f.columns {
		if column.BoardID == boardID {
			items = append(items, column)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (f *fakeStore) CountColumns(_ context.Context, boardID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, column := range f.columns {
		if column.BoardID == boardID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) GetColumn(_ context.Context, columnID string) (store.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	column, ok := f.columns[columnID]
	if !ok {
		return store.Column{}, sql.ErrNoRows
	}
	return column, nil
}

func (f *fakeStore) CreateColumn(_ context.Context, item store.Column) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.columns[item.ID] = item
	return nil
}

func (f *fakeStore) RenameColumn(_ context.Context, columnID, name string) (store.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	column, ok := f.columns[columnID]
	if !ok {
		return store.Column{}, sql.ErrNoRows
	}
	column.Name = name
	f.columns[columnID] = column
	return column, nil
}

func (f *fakeStore) DeleteColumn(_ context.Context, columnID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	column, ok := f.columns[columnID]
	if !ok {
		return sql.ErrNoRows
	}
	for id, card := range f.cards {
		if card.ColumnID == columnID {
			delete(f.cards, id)
			for attID, att := range f.attachments {
				if att.CardID == id {
					delete(f.attachments, attID)
				}
			}
		}
	}
	delete(f.columns, columnID)
	for id, sibling := range f.columns {
		if sibling.BoardID == column.BoardID && sibling.Position > column.Position {
			sibling.Position--
			f.columns[id] = sibling
		}
	}
	return nil
}

func (f *fakeStore) ListCards(_ context.Context, columnID string) ([]store.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Card, 0)
	for _, card := range f.cards {
		if card.ColumnID == columnID {
			items = append(items, card)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (f *fakeStore) CountCards(_ context.Context, columnID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, card := range f.cards {
		if card.ColumnID == columnID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) GetCard(_ context.Context, cardID string) (store.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return store.Card{}, sql.ErrNoRows
	}
	return card, nil
}

func (f *fakeStore) CreateCard(_ context.Context, item store.Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateCard(_ context.Context, cardID string, patch store.CardPatch) (store.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	card, ok := f.cards[cardID]
	if !ok {
		return store.Card{}, sql.ErrNoRows
	}
	if patch.Title != nil {
		card.Title = *patch.Title
	}
	if patch.Description != nil {
		card.Description = *patch.Description
	}
	if patch.ColumnID != nil {
		card.ColumnID = *patch.ColumnID
	}
	if patch.Position != nil {
		card.Position = *patch.Position
	}
	if patch.CheckBox != nil {
		card.CheckBox = *patch.CheckBox
	}
	if patch.Important != nil {
		card.Important = *patch.Important
	}
	f.cards[cardID] = card
	return card, nil
}

func (f *fakeStore) DeleteCard(_ context.Context, cardID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cards[cardID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.cards, cardID)
	for attID, att := range f.attachments {
		if att.CardID == cardID {
			delete(f.attachments, attID)
		}
	}
	return nil
}

func (f *fakeStore) ReplaceCardOrder(_ context.Context, columnID string, placements []store.CardPlacement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, placement := range placements {
		card, ok := f.cards[placement.ID]
		if !ok {
			return fmt.Errorf("card %s: %w", placement.ID, sql.ErrNoRows)
		}
		card.ColumnID = columnID
		card.Position = placement.Position
		f.cards[placement.ID] = card
	}
	return nil
}

func (f *fakeStore) ListAttachments(_ context.Context, cardID string) ([]store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Attachment, 0)
	for _, item := range f.attachments {
		if item.CardID == cardID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeStore) GetAttachment(_ context.Context, attachmentID string) (store.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.attachments[attachmentID]
	if !ok {
		return store.Attachment{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.refresh[tokenHash]
	if !ok || time.Now().After(record.expiresAt) {
		return store.User{}, sql.ErrNoRows
	}
	user, ok := f.users[record.userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) Ping(context.Context) error {
	return nil
}
