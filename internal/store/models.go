package store

import "time"

type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Board is the top-level container. One per user, created lazily on the
// first authenticated fetch.
type Board struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// Column is an ordered bucket of cards. Position is a 0-based rank among
// the columns of the same board.
type Column struct {
	ID        string
	Name      string
	BoardID   string
	Position  int
	CreatedAt time.Time
}

// Card is a task unit. Position is a 0-based rank among the cards of the
// same column.
type Card struct {
	ID          string
	Title       string
	Description string
	ColumnID    string
	Position    int
	CheckBox    bool
	Important   bool
	CreatedAt   time.Time
}

// CardPatch is a partial card update. Pointer fields distinguish "not sent"
// from zero values, so checkBox=false is a real update.
type CardPatch struct {
	ColumnID    *string
	Position    *int
	Title       *string
	Description *string
	CheckBox    *bool
	Important   *bool
}

// CardPlacement names one card's slot in a bulk order replace.
type CardPlacement struct {
	ID       string
	Position int
}

type Attachment struct {
	ID          string
	CardID      string
	FileName    string
	ObjectKey   string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}
