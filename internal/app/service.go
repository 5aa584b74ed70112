package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"corkboard/api/internal/attach"
	"corkboard/api/internal/auth"
	"corkboard/api/internal/authpw"
	"corkboard/api/internal/config"
	"corkboard/api/internal/reorder"
	"corkboard/api/internal/search"
	"corkboard/api/internal/store"
	"corkboard/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// ColumnWithCards is a column materialized with its ordered card list.
type ColumnWithCards struct {
	Column store.Column
	Cards  []store.Card
}

type CreateCardInput struct {
	Title       string
	Description string
	Important   bool
}

// UpdateCardInput is a partial update. Pointer fields distinguish "field
// absent" from zero values, so {"checkBox": false} unchecks a card.
type UpdateCardInput struct {
	Title       *string
	Description *string
	ColumnID    *string
	Position    *int
	CheckBox    *bool
	Important   *bool
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)

	GetBoardByOwner(context.Context, string) (store.Board, error)
	GetBoard(context.Context, string) (store.Board, error)
	CreateBoard(context.Context, store.Board) error
	RenameBoard(context.Context, string, string) (store.Board, error)

	ListColumns(context.Context, string) ([]store.Column, error)
	CountColumns(context.Context, string) (int, error)
	GetColumn(context.Context, string) (store.Column, error)
	CreateColumn(context.Context, store.Column) error
	RenameColumn(context.Context, string, string) (store.Column, error)
	DeleteColumn(context.Context, string) error

	ListCards(context.Context, string) ([]store.Card, error)
	CountCards(context.Context, string) (int, error)
	GetCard(context.Context, string) (store.Card, error)
	CreateCard(context.Context, store.Card) error
	UpdateCard(context.Context, string, store.CardPatch) (store.Card, error)
	DeleteCard(context.Context, string) error
	ReplaceCardOrder(context.Context, string, []store.CardPlacement) error

	ListAttachments(context.Context, string) ([]store.Attachment, error)
	GetAttachment(context.Context, string) (store.Attachment, error)

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	Ping(ctx context.Context) error
}

// refreshStore holds refresh sessions. Redis when configured, otherwise the
// relational store serves the same contract.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	pw       *authpw.Service
	search   *search.Service
	attach   *attach.Service
}

func New(cfg config.Config, db *store.PostgresStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    db,
		sessions: db,
		pw:       authpw.NewService(db),
	}
}

// UseSessionStore swaps the refresh session backend, typically for Redis.
func (s *Service) UseSessionStore(sessions refreshStore) {
	s.sessions = sessions
}

// UseSearch enables card search.
func (s *Service) UseSearch(sv *search.Service) {
	s.search = sv
}

// UseAttachments enables card attachments.
func (s *Service) UseAttachments(sv *attach.Service) {
	s.attach = sv
}

// Auth

func (s *Service) Register(ctx context.Context, req authpw.RegisterRequest) (Session, error) {
	user, err := s.pw.Register(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.pw.Authenticate(ctx, email, password)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session backend may carry only the user id.
	if user.Username == "" {
		if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = full
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewSecret(32)
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Board

// EnsureBoard returns the user's board, creating it on first access.
func (s *Service) EnsureBoard(ctx context.Context, session Session) (store.Board, error) {
	board, err := s.store.GetBoardByOwner(ctx, session.UserID)
	if err == nil {
		return board, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Board{}, err
	}

	board = store.Board{
		ID:      util.NewID("brd"),
		Name:    "My kanban board",
		OwnerID: session.UserID,
	}
	if err := s.store.CreateBoard(ctx, board); err != nil {
		return store.Board{}, err
	}
	return board, nil
}

func (s *Service) RenameBoard(ctx context.Context, session Session, boardID, name string) (store.Board, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Board{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	board, err := s.store.GetBoard(ctx, boardID)
	if err != nil {
		return store.Board{}, err
	}
	if board.OwnerID != session.UserID {
		return store.Board{}, sql.ErrNoRows
	}
	return s.store.RenameBoard(ctx, boardID, name)
}

// BoardView returns the board with every column and its ordered cards.
func (s *Service) BoardView(ctx context.Context, session Session) (store.Board, []ColumnWithCards, error) {
	board, err := s.EnsureBoard(ctx, session)
	if err != nil {
		return store.Board{}, nil, err
	}
	columns, err := s.columnsWithCards(ctx, board.ID)
	if err != nil {
		return store.Board{}, nil, err
	}
	return board, columns, nil
}

func (s *Service) columnsWithCards(ctx context.Context, boardID string) ([]ColumnWithCards, error) {
	columns, err := s.store.ListColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}
	items := make([]ColumnWithCards, 0, len(columns))
	for _, column := range columns {
		cards, err := s.store.ListCards(ctx, column.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, ColumnWithCards{Column: column, Cards: cards})
	}
	return items, nil
}

// Columns

func (s *Service) Columns(ctx context.Context, session Session) ([]ColumnWithCards, error) {
	board, err := s.EnsureBoard(ctx, session)
	if err != nil {
		return nil, err
	}
	return s.columnsWithCards(ctx, board.ID)
}

// CreateColumn appends a column at the end of the board. The new position
// is the current sibling count, keeping the sequence 0..n-1 contiguous.
func (s *Service) CreateColumn(ctx context.Context, session Session, name string) (store.Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Column{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	board, err := s.EnsureBoard(ctx, session)
	if err != nil {
		return store.Column{}, err
	}
	position, err := s.store.CountColumns(ctx, board.ID)
	if err != nil {
		return store.Column{}, err
	}
	column := store.Column{
		ID:       util.NewID("col"),
		Name:     name,
		BoardID:  board.ID,
		Position: position,
	}
	if err := s.store.CreateColumn(ctx, column); err != nil {
		return store.Column{}, err
	}
	return column, nil
}

func (s *Service) RenameColumn(ctx context.Context, session Session, columnID, name string) (store.Column, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Column{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if _, err := s.ownedColumn(ctx, session, columnID); err != nil {
		return store.Column{}, err
	}
	return s.store.RenameColumn(ctx, columnID, name)
}

// DeleteColumn removes the column with its cards and closes the position
// gap among the remaining columns.
func (s *Service) DeleteColumn(ctx context.Context, session Session, columnID string) error {
	if _, err := s.ownedColumn(ctx, session, columnID); err != nil {
		return err
	}
	cards, err := s.store.ListCards(ctx, columnID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteColumn(ctx, columnID); err != nil {
		return err
	}
	if s.search != nil {
		for _, card := range cards {
			s.search.DeleteCard(card.ID)
		}
	}
	return nil
}

// ApplyCardOrder replaces the full card ordering of a column in one
// transaction. placements must be a 0..n-1 permutation with unique ids;
// cards named from other columns move into this column.
func (s *Service) ApplyCardOrder(ctx context.Context, session Session, columnID string, placements []store.CardPlacement) error {
	column, err := s.ownedColumn(ctx, session, columnID)
	if err != nil {
		return err
	}
	if err := reorder.ValidOrder(placements); err != nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	// The ordering must account for every card already in the column;
	// extra ids are cards moving in from other columns. A partial list
	// would leave the untouched cards colliding with the new positions.
	current, err := s.store.ListCards(ctx, columnID)
	if err != nil {
		return err
	}
	named := make(map[string]bool, len(placements))
	for _, placement := range placements {
		named[placement.ID] = true
	}
	for _, card := range current {
		if !named[card.ID] {
			return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ordering must include every card in the column", map[string]any{"missing": card.ID})
		}
	}
	if err := s.store.ReplaceCardOrder(ctx, columnID, placements); err != nil {
		return err
	}
	if s.search != nil {
		for _, placement := range placements {
			card, err := s.store.GetCard(ctx, placement.ID)
			if err != nil {
				continue
			}
			s.search.IndexCard(search.CardRecord{
				ID:          card.ID,
				Title:       card.Title,
				Description: card.Description,
				ColumnID:    card.ColumnID,
				BoardID:     column.BoardID,
			})
		}
	}
	return nil
}

// Cards

func (s *Service) Cards(ctx context.Context, session Session, columnID string) ([]store.Card, error) {
	if _, err := s.ownedColumn(ctx, session, columnID); err != nil {
		return nil, err
	}
	return s.store.ListCards(ctx, columnID)
}

// CreateCard appends a card at the end of the column, position = current
// card count.
func (s *Service) CreateCard(ctx context.Context, session Session, columnID string, input CreateCardInput) (store.Card, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Card{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	column, err := s.ownedColumn(ctx, session, columnID)
	if err != nil {
		return store.Card{}, err
	}
	position, err := s.store.CountCards(ctx, columnID)
	if err != nil {
		return store.Card{}, err
	}
	card := store.Card{
		ID:          util.NewID("crd"),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		ColumnID:    columnID,
		Position:    position,
		Important:   input.Important,
	}
	if err := s.store.CreateCard(ctx, card); err != nil {
		return store.Card{}, err
	}
	s.indexCard(card, column.BoardID)
	return card, nil
}

// UpdateCard applies a partial update. Absent fields keep their value; a
// column change is validated against the caller's board first.
func (s *Service) UpdateCard(ctx context.Context, session Session, cardID string, input UpdateCardInput) (store.Card, error) {
	card, boardID, err := s.ownedCard(ctx, session, cardID)
	if err != nil {
		return store.Card{}, err
	}
	patch := store.CardPatch{
		Position:  input.Position,
		CheckBox:  input.CheckBox,
		Important: input.Important,
	}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return store.Card{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title cannot be empty", nil)
		}
		patch.Title = &title
	}
	if input.Description != nil {
		description := strings.TrimSpace(*input.Description)
		patch.Description = &description
	}
	if input.ColumnID != nil && *input.ColumnID != card.ColumnID {
		dest, err := s.ownedColumn(ctx, session, *input.ColumnID)
		if err != nil {
			return store.Card{}, err
		}
		patch.ColumnID = &dest.ID
	}
	updated, err := s.store.UpdateCard(ctx, cardID, patch)
	if err != nil {
		return store.Card{}, err
	}
	s.indexCard(updated, boardID)
	return updated, nil
}

func (s *Service) DeleteCard(ctx context.Context, session Session, cardID string) error {
	if _, _, err := s.ownedCard(ctx, session, cardID); err != nil {
		return err
	}
	if err := s.store.DeleteCard(ctx, cardID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteCard(cardID)
	}
	return nil
}

// Search

func (s *Service) SearchCards(ctx context.Context, session Session, boardID, text string, limit, offset int) (search.Response, error) {
	board, err := s.EnsureBoard(ctx, session)
	if err != nil {
		return search.Response{}, err
	}
	if boardID != "" && boardID != board.ID {
		return search.Response{}, sql.ErrNoRows
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(search.Query{
		Text:    strings.TrimSpace(text),
		BoardID: board.ID,
		Limit:   limit,
		Offset:  offset,
	}), nil
}

// Attachments

func (s *Service) AddAttachment(ctx context.Context, session Session, cardID, filename, contentType string, size int64, r io.Reader) (store.Attachment, error) {
	if s.attach == nil {
		return store.Attachment{}, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachments are not configured", nil)
	}
	if _, _, err := s.ownedCard(ctx, session, cardID); err != nil {
		return store.Attachment{}, err
	}
	item, err := s.attach.Upload(ctx, cardID, filename, contentType, size, r)
	if err != nil {
		if errors.Is(err, attach.ErrEmptyFilename) || errors.Is(err, attach.ErrTooLarge) {
			return store.Attachment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		}
		return store.Attachment{}, err
	}
	return item, nil
}

func (s *Service) Attachments(ctx context.Context, session Session, cardID string) ([]store.Attachment, error) {
	if _, _, err := s.ownedCard(ctx, session, cardID); err != nil {
		return nil, err
	}
	return s.store.ListAttachments(ctx, cardID)
}

func (s *Service) AttachmentURL(ctx context.Context, session Session, attachmentID string) (string, error) {
	if s.attach == nil {
		return "", domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachments are not configured", nil)
	}
	item, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return "", err
	}
	if _, _, err := s.ownedCard(ctx, session, item.CardID); err != nil {
		return "", err
	}
	return s.attach.PresignDownload(ctx, attachmentID)
}

func (s *Service) DeleteAttachment(ctx context.Context, session Session, attachmentID string) error {
	if s.attach == nil {
		return domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachments are not configured", nil)
	}
	item, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if _, _, err := s.ownedCard(ctx, session, item.CardID); err != nil {
		return err
	}
	return s.attach.Delete(ctx, attachmentID)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ownedColumn loads a column and checks it belongs to the caller's board.
// Foreign columns read as not found, never as forbidden, to avoid leaking
// other users' ids.
func (s *Service) ownedColumn(ctx context.Context, session Session, columnID string) (store.Column, error) {
	column, err := s.store.GetColumn(ctx, columnID)
	if err != nil {
		return store.Column{}, err
	}
	board, err := s.store.GetBoard(ctx, column.BoardID)
	if err != nil {
		return store.Column{}, err
	}
	if board.OwnerID != session.UserID {
		return store.Column{}, sql.ErrNoRows
	}
	return column, nil
}

func (s *Service) ownedCard(ctx context.Context, session Session, cardID string) (store.Card, string, error) {
	card, err := s.store.GetCard(ctx, cardID)
	if err != nil {
		return store.Card{}, "", err
	}
	column, err := s.ownedColumn(ctx, session, card.ColumnID)
	if err != nil {
		return store.Card{}, "", err
	}
	return card, column.BoardID, nil
}

func (s *Service) indexCard(card store.Card, boardID string) {
	if s.search == nil {
		return
	}
	s.search.IndexCard(search.CardRecord{
		ID:          card.ID,
		Title:       card.Title,
		Description: card.Description,
		ColumnID:    card.ColumnID,
		BoardID:     boardID,
	})
}
