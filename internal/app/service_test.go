package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"corkboard/api/internal/authpw"
	"corkboard/api/internal/config"
	"corkboard/api/internal/store"
)

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			JWTSecret:  "test-secret",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		store:    fs,
		sessions: fs,
		pw:       authpw.NewService(fs),
	}
}

func registerTestUser(t *testing.T, svc *Service, email string) Session {
	t.Helper()
	session, err := svc.Register(context.Background(), authpw.RegisterRequest{
		Email:    email,
		Username: "Tester",
		Password: "correct horse",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return session
}

func TestRegisterLoginRoundtrip(t *testing.T) {
	svc := newTestService(newFakeStore())

	session := registerTestUser(t, svc, "kim@example.com")
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("expected tokens on register")
	}

	login, err := svc.Login(context.Background(), "kim@example.com", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if login.UserID != session.UserID {
		t.Fatalf("login user %q, register user %q", login.UserID, session.UserID)
	}

	parsed, err := svc.SessionFromToken(context.Background(), login.Token)
	if err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if parsed.UserName != "Tester" {
		t.Fatalf("unexpected user name %q", parsed.UserName)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")

	next, err := svc.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken == session.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	if _, err := svc.Refresh(context.Background(), session.RefreshToken); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("reused refresh token: err = %v, want ErrNoRows", err)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")

	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatal("expected revoked token to be rejected")
	}
}

func TestEnsureBoardCreatesLazilyOnce(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	session := registerTestUser(t, svc, "kim@example.com")

	first, err := svc.EnsureBoard(context.Background(), session)
	if err != nil {
		t.Fatalf("ensure board: %v", err)
	}
	if first.Name != "My kanban board" {
		t.Fatalf("unexpected board name %q", first.Name)
	}

	second, err := svc.EnsureBoard(context.Background(), session)
	if err != nil {
		t.Fatalf("ensure board again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("second EnsureBoard created a new board")
	}
	if len(fs.boards) != 1 {
		t.Fatalf("store holds %d boards, want 1", len(fs.boards))
	}
}

func TestCreateColumnAssignsContiguousPositions(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")

	for i, name := range []string{"Todo", "Doing", "Done"} {
		column, err := svc.CreateColumn(context.Background(), session, name)
		if err != nil {
			t.Fatalf("create column %q: %v", name, err)
		}
		if column.Position != i {
			t.Fatalf("column %q position = %d, want %d", name, column.Position, i)
		}
	}
}

func TestCreateColumnRequiresName(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")

	_, err := svc.CreateColumn(context.Background(), session, "   ")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
}

func TestCreateCardPositionIsSiblingCount(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	column, err := svc.CreateColumn(context.Background(), session, "Todo")
	if err != nil {
		t.Fatalf("create column: %v", err)
	}

	for i := 0; i < 3; i++ {
		card, err := svc.CreateCard(context.Background(), session, column.ID, CreateCardInput{Title: "Task"})
		if err != nil {
			t.Fatalf("create card %d: %v", i, err)
		}
		if card.Position != i {
			t.Fatalf("card %d position = %d, want %d", i, card.Position, i)
		}
	}
}

func TestCreateCardInUnknownColumnIsNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")

	_, err := svc.CreateCard(context.Background(), session, "col_missing", CreateCardInput{Title: "Task"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want ErrNoRows", err)
	}
}

func TestDeleteColumnCascadesAndClosesGap(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	var columns []store.Column
	for _, name := range []string{"Todo", "Doing", "Done"} {
		column, err := svc.CreateColumn(ctx, session, name)
		if err != nil {
			t.Fatalf("create column: %v", err)
		}
		columns = append(columns, column)
	}
	if _, err := svc.CreateCard(ctx, session, columns[1].ID, CreateCardInput{Title: "Doomed"}); err != nil {
		t.Fatalf("create card: %v", err)
	}

	if err := svc.DeleteColumn(ctx, session, columns[1].ID); err != nil {
		t.Fatalf("delete column: %v", err)
	}

	remaining, err := svc.Columns(ctx, session)
	if err != nil {
		t.Fatalf("list columns: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("%d columns remain, want 2", len(remaining))
	}
	for i, item := range remaining {
		if item.Column.Position != i {
			t.Fatalf("column %q position = %d, want %d", item.Column.Name, item.Column.Position, i)
		}
	}
	if len(fs.cards) != 0 {
		t.Fatalf("%d cards remain after cascade, want 0", len(fs.cards))
	}
}

func TestApplyCardOrderMovesCardAcrossColumns(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	source, _ := svc.CreateColumn(ctx, session, "Todo")
	dest, _ := svc.CreateColumn(ctx, session, "Doing")

	moved, err := svc.CreateCard(ctx, session, source.ID, CreateCardInput{Title: "Task A"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	stay, err := svc.CreateCard(ctx, session, dest.ID, CreateCardInput{Title: "Task B"})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}

	err = svc.ApplyCardOrder(ctx, session, dest.ID, []store.CardPlacement{
		{ID: moved.ID, Position: 0},
		{ID: stay.ID, Position: 1},
	})
	if err != nil {
		t.Fatalf("apply card order: %v", err)
	}

	cards, err := svc.Cards(ctx, session, dest.ID)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(cards) != 2 || cards[0].ID != moved.ID || cards[1].ID != stay.ID {
		t.Fatalf("unexpected dest ordering: %+v", cards)
	}
	if cards[0].ColumnID != dest.ID {
		t.Fatal("moved card kept its old column")
	}

	sourceCards, err := svc.Cards(ctx, session, source.ID)
	if err != nil {
		t.Fatalf("list source cards: %v", err)
	}
	if len(sourceCards) != 0 {
		t.Fatalf("source still has %d cards", len(sourceCards))
	}
}

func TestApplyCardOrderRejectsGappedPositions(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	column, _ := svc.CreateColumn(ctx, session, "Todo")
	a, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "A"})
	b, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "B"})

	err := svc.ApplyCardOrder(ctx, session, column.ID, []store.CardPlacement{
		{ID: a.ID, Position: 0},
		{ID: b.ID, Position: 2},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}
}

func TestApplyCardOrderRejectsPartialColumn(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	column, _ := svc.CreateColumn(ctx, session, "Todo")
	a, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "A"})
	b, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "B"})
	c, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "C"})

	err := svc.ApplyCardOrder(ctx, session, column.ID, []store.CardPlacement{
		{ID: b.ID, Position: 0},
		{ID: a.ID, Position: 1},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("err = %v, want 422 domain error", err)
	}

	cards, err := svc.Cards(ctx, session, column.ID)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(cards) != 3 || cards[0].ID != a.ID || cards[1].ID != b.ID || cards[2].ID != c.ID {
		t.Fatalf("ordering changed after rejected write: %+v", cards)
	}
}

func TestApplyCardOrderLastWriterWins(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	column, _ := svc.CreateColumn(ctx, session, "Todo")
	a, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "A"})
	b, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "B"})
	c, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "C"})

	// Two clients read [A B C], each computes its own full ordering, and
	// both write. The second write replaces the first wholesale; nothing
	// of the first ordering survives.
	first := []store.CardPlacement{
		{ID: c.ID, Position: 0},
		{ID: a.ID, Position: 1},
		{ID: b.ID, Position: 2},
	}
	second := []store.CardPlacement{
		{ID: b.ID, Position: 0},
		{ID: c.ID, Position: 1},
		{ID: a.ID, Position: 2},
	}

	if err := svc.ApplyCardOrder(ctx, session, column.ID, first); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := svc.ApplyCardOrder(ctx, session, column.ID, second); err != nil {
		t.Fatalf("second write: %v", err)
	}

	cards, err := svc.Cards(ctx, session, column.ID)
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	if len(cards) != 3 || cards[0].ID != b.ID || cards[1].ID != c.ID || cards[2].ID != a.ID {
		t.Fatalf("final ordering %+v, want the second write verbatim", cards)
	}
	for i, card := range cards {
		if card.Position != i {
			t.Fatalf("card %s has position %d, want %d", card.ID, card.Position, i)
		}
	}
}

func TestUpdateCardUncheckPersists(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	column, _ := svc.CreateColumn(ctx, session, "Todo")
	card, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "Task"})

	checked := true
	if _, err := svc.UpdateCard(ctx, session, card.ID, UpdateCardInput{CheckBox: &checked}); err != nil {
		t.Fatalf("check card: %v", err)
	}

	unchecked := false
	updated, err := svc.UpdateCard(ctx, session, card.ID, UpdateCardInput{CheckBox: &unchecked})
	if err != nil {
		t.Fatalf("uncheck card: %v", err)
	}
	if updated.CheckBox {
		t.Fatal("checkBox=false did not persist")
	}
}

func TestUpdateCardLastWriterWins(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	column, _ := svc.CreateColumn(ctx, session, "Todo")
	card, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "Original"})

	first := "First edit"
	second := "Second edit"
	if _, err := svc.UpdateCard(ctx, session, card.ID, UpdateCardInput{Title: &first}); err != nil {
		t.Fatalf("first update: %v", err)
	}
	updated, err := svc.UpdateCard(ctx, session, card.ID, UpdateCardInput{Title: &second})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if updated.Title != second {
		t.Fatalf("title = %q, want %q", updated.Title, second)
	}
}

func TestUpdateCardToUnknownColumnIsNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	column, _ := svc.CreateColumn(ctx, session, "Todo")
	card, _ := svc.CreateCard(ctx, session, column.ID, CreateCardInput{Title: "Task"})

	missing := "col_missing"
	_, err := svc.UpdateCard(ctx, session, card.ID, UpdateCardInput{ColumnID: &missing})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want ErrNoRows", err)
	}
}

func TestForeignColumnReadsAsNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	owner := registerTestUser(t, svc, "owner@example.com")
	intruder := registerTestUser(t, svc, "intruder@example.com")
	ctx := context.Background()

	column, err := svc.CreateColumn(ctx, owner, "Private")
	if err != nil {
		t.Fatalf("create column: %v", err)
	}

	if _, err := svc.RenameColumn(ctx, intruder, column.ID, "Mine now"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("rename foreign column: err = %v, want ErrNoRows", err)
	}
	if err := svc.DeleteColumn(ctx, intruder, column.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("delete foreign column: err = %v, want ErrNoRows", err)
	}
}

func TestSearchScopedToForeignBoardIsNotFound(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	if _, err := svc.SearchCards(ctx, session, "brd_someone_else", "task", 20, 0); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("foreign board search: err = %v, want ErrNoRows", err)
	}
}

func TestSearchWithoutBackendIsUnavailable(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	board, err := svc.EnsureBoard(ctx, session)
	if err != nil {
		t.Fatalf("ensure board: %v", err)
	}

	_, err = svc.SearchCards(ctx, session, board.ID, "task", 20, 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 503 {
		t.Fatalf("err = %v, want 503 domain error", err)
	}
}

func TestBoardViewMaterializesColumnsWithCards(t *testing.T) {
	svc := newTestService(newFakeStore())
	session := registerTestUser(t, svc, "kim@example.com")
	ctx := context.Background()

	todo, _ := svc.CreateColumn(ctx, session, "Todo")
	svc.CreateColumn(ctx, session, "Done")
	svc.CreateCard(ctx, session, todo.ID, CreateCardInput{Title: "Task"})

	board, columns, err := svc.BoardView(ctx, session)
	if err != nil {
		t.Fatalf("board view: %v", err)
	}
	if board.Name != "My kanban board" {
		t.Fatalf("unexpected board name %q", board.Name)
	}
	if len(columns) != 2 {
		t.Fatalf("%d columns, want 2", len(columns))
	}
	if len(columns[0].Cards) != 1 || columns[0].Cards[0].Title != "Task" {
		t.Fatalf("unexpected first column cards: %+v", columns[0].Cards)
	}
	if len(columns[1].Cards) != 0 {
		t.Fatal("empty column came back with cards")
	}
}
