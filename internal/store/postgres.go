package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES ($1, $2, $3, $4)
	`, user.ID, user.Username, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE email=$1
	`, email).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Boards

func (s *PostgresStore) GetBoardByOwner(ctx context.Context, ownerID string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at
		FROM boards
		WHERE owner_id=$1
	`, ownerID).Scan(&board.ID, &board.Name, &board.OwnerID, &board.CreatedAt)
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, created_at
		FROM boards
		WHERE id=$1
	`, boardID).Scan(&board.ID, &board.Name, &board.OwnerID, &board.CreatedAt)
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO boards (id, name, owner_id)
		VALUES ($1, $2, $3)
	`, board.ID, board.Name, board.OwnerID)
	if err != nil {
		return fmt.Errorf("insert board: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenameBoard(ctx context.Context, boardID, name string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		UPDATE boards SET name=$2
		WHERE id=$1
		RETURNING id, name, owner_id, created_at
	`, boardID, name).Scan(&board.ID, &board.Name, &board.OwnerID, &board.CreatedAt)
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

// Columns

func (s *PostgresStore) ListColumns(ctx context.Context, boardID string) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, board_id, position, created_at
		FROM columns
		WHERE board_id=$1
		ORDER BY position ASC, created_at ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer rows.Close()

	items := make([]Column, 0)
	for rows.Next() {
		var item Column
		if err := rows.Scan(&item.ID, &item.Name, &item.BoardID, &item.Position, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountColumns(ctx context.Context, boardID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM columns WHERE board_id=$1`, boardID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count columns: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetColumn(ctx context.Context, columnID string) (Column, error) {
	var item Column
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, board_id, position, created_at
		FROM columns
		WHERE id=$1
	`, columnID).Scan(&item.ID, &item.Name, &item.BoardID, &item.Position, &item.CreatedAt)
	if err != nil {
		return Column{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateColumn(ctx context.Context, item Column) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO columns (id, name, board_id, position)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Name, item.BoardID, item.Position)
	if err != nil {
		return fmt.Errorf("insert column: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenameColumn(ctx context.Context, columnID, name string) (Column, error) {
	var item Column
	err := s.db.QueryRowContext(ctx, `
		UPDATE columns SET name=$2
		WHERE id=$1
		RETURNING id, name, board_id, position, created_at
	`, columnID, name).Scan(&item.ID, &item.Name, &item.BoardID, &item.Position, &item.CreatedAt)
	if err != nil {
		return Column{}, err
	}
	return item, nil
}

// DeleteColumn removes a column, cascades to its cards, and renumbers the
// surviving columns of the board so positions stay contiguous from 0.
// All of it happens in one transaction: either the column and every one of
// its cards are gone, or nothing changed.
func (s *PostgresStore) DeleteColumn(ctx context.Context, columnID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete column: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE card_id IN (SELECT id FROM cards WHERE column_id=$1)`, columnID); err != nil {
		return fmt.Errorf("delete column attachments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE column_id=$1`, columnID); err != nil {
		return fmt.Errorf("delete column cards: %w", err)
	}

	var boardID string
	var position int
	err = tx.QueryRowContext(ctx, `
		DELETE FROM columns WHERE id=$1
		RETURNING board_id, position
	`, columnID).Scan(&boardID, &position)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE columns SET position = position - 1
		WHERE board_id=$1 AND position > $2
	`, boardID, position); err != nil {
		return fmt.Errorf("renumber columns: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete column: %w", err)
	}
	return nil
}

// Cards

func (s *PostgresStore) ListCards(ctx context.Context, columnID string) ([]Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, column_id, position, check_box, important, created_at
		FROM cards
		WHERE column_id=$1
		ORDER BY position ASC, created_at ASC
	`, columnID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	items := make([]Card, 0)
	for rows.Next() {
		var item Card
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &item.ColumnID, &item.Position, &item.CheckBox, &item.Important, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cards: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountCards(ctx context.Context, columnID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM cards WHERE column_id=$1`, columnID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetCard(ctx context.Context, cardID string) (Card, error) {
	var item Card
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, column_id, position, check_box, important, created_at
		FROM cards
		WHERE id=$1
	`, cardID).Scan(&item.ID, &item.Title, &item.Description, &item.ColumnID, &item.Position, &item.CheckBox, &item.Important, &item.CreatedAt)
	if err != nil {
		return Card{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateCard(ctx context.Context, item Card) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cards (id, title, description, column_id, position, check_box, important)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.Title, item.Description, item.ColumnID, item.Position, item.CheckBox, item.Important)
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

// UpdateCard applies a partial update and returns the updated card.
// Only fields set in the patch are touched.
func (s *PostgresStore) UpdateCard(ctx context.Context, cardID string, patch CardPatch) (Card, error) {
	sets := make([]string, 0, 6)
	args := []any{cardID}
	argN := 2

	add := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", column, argN))
		args = append(args, value)
		argN++
	}
	if patch.ColumnID != nil {
		add("column_id", *patch.ColumnID)
	}
	if patch.Position != nil {
		add("position", *patch.Position)
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.CheckBox != nil {
		add("check_box", *patch.CheckBox)
	}
	if patch.Important != nil {
		add("important", *patch.Important)
	}

	if len(sets) == 0 {
		return s.GetCard(ctx, cardID)
	}

	query := fmt.Sprintf(`
		UPDATE cards SET %s
		WHERE id=$1
		RETURNING id, title, description, column_id, position, check_box, important, created_at
	`, strings.Join(sets, ", "))

	var item Card
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&item.ID, &item.Title, &item.Description, &item.ColumnID, &item.Position, &item.CheckBox, &item.Important, &item.CreatedAt)
	if err != nil {
		return Card{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteCard(ctx context.Context, cardID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete card: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE card_id=$1`, cardID); err != nil {
		return fmt.Errorf("delete card attachments: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id=$1`, cardID)
	if err != nil {
		return fmt.Errorf("delete card: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete card rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete card: %w", err)
	}
	return nil
}

// ReplaceCardOrder assigns column and position for every listed card in a
// single transaction. The whole-column write is last-writer-wins: there is
// no compare-and-swap against a previously read state.
func (s *PostgresStore) ReplaceCardOrder(ctx context.Context, columnID string, placements []CardPlacement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace order: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, placement := range placements {
		result, err := tx.ExecContext(ctx, `
			UPDATE cards SET column_id=$1, position=$2 WHERE id=$3
		`, columnID, placement.Position, placement.ID)
		if err != nil {
			return fmt.Errorf("place card %s: %w", placement.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("place card %s rows: %w", placement.ID, err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace order: %w", err)
	}
	return nil
}

// Attachments

func (s *PostgresStore) CreateAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, card_id, file_name, object_key, content_type, size)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.CardID, item.FileName, item.ObjectKey, item.ContentType, item.Size)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, cardID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, card_id, file_name, object_key, content_type, size, created_at
		FROM attachments
		WHERE card_id=$1
		ORDER BY created_at ASC
	`, cardID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.CardID, &item.FileName, &item.ObjectKey, &item.ContentType, &item.Size, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, card_id, file_name, object_key, content_type, size, created_at
		FROM attachments
		WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.CardID, &item.FileName, &item.ObjectKey, &item.ContentType, &item.Size, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete attachment rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Refresh sessions (Postgres fallback when Redis is not configured)

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.username, u.email, u.password_hash, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
