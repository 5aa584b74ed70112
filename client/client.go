// Package client is the Go API client for a corkboard server. It carries a
// typed surface over the JSON API plus a Mirror that keeps a local copy of
// the board for optimistic drag-and-drop.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Board struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

type Column struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	BoardID  string `json:"boardId"`
	Position int    `json:"position"`
	Cards    []Card `json:"cards"`
}

type Card struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ColumnID    string `json:"columnId"`
	Position    int    `json:"position"`
	CheckBox    bool   `json:"checkBox"`
	Important   bool   `json:"important"`
}

type Session struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	ExpiresAt    int64  `json:"expiresAt"`
}

// CardUpdate is a partial card update. Nil fields are not sent.
type CardUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	ColumnID    *string `json:"columnId,omitempty"`
	Position    *int    `json:"position,omitempty"`
	CheckBox    *bool   `json:"checkBox,omitempty"`
	Important   *bool   `json:"important,omitempty"`
}

// CardPlacement names one card's slot in a bulk column write.
type CardPlacement struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetToken sets the bearer token used on every subsequent request.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) Register(ctx context.Context, username, email, password string) (Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/api/user/register", map[string]any{
		"username": username,
		"email":    email,
		"password": password,
	}, &session)
	if err != nil {
		return Session{}, err
	}
	c.token = session.Token
	return session, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/api/user/login", map[string]any{
		"email":    email,
		"password": password,
	}, &session)
	if err != nil {
		return Session{}, err
	}
	c.token = session.Token
	return session, nil
}

func (c *Client) Board(ctx context.Context) (Board, error) {
	var board Board
	err := c.do(ctx, http.MethodGet, "/api/board", nil, &board)
	return board, err
}

func (c *Client) RenameBoard(ctx context.Context, boardID, name string) error {
	return c.do(ctx, http.MethodPut, "/api/board/"+url.PathEscape(boardID), map[string]any{"name": name}, nil)
}

func (c *Client) CreateColumn(ctx context.Context, name string) (Column, error) {
	var column Column
	err := c.do(ctx, http.MethodPost, "/api/columns", map[string]any{"name": name}, &column)
	return column, err
}

func (c *Client) RenameColumn(ctx context.Context, columnID, name string) (Column, error) {
	var column Column
	err := c.do(ctx, http.MethodPut, "/api/columns/"+url.PathEscape(columnID)+"/name", map[string]any{"name": name}, &column)
	return column, err
}

func (c *Client) DeleteColumn(ctx context.Context, columnID string) error {
	return c.do(ctx, http.MethodDelete, "/api/columns/"+url.PathEscape(columnID), nil, nil)
}

func (c *Client) CreateCard(ctx context.Context, columnID, title, description string) (Card, error) {
	var card Card
	err := c.do(ctx, http.MethodPost, "/api/cards", map[string]any{
		"columnId":    columnID,
		"title":       title,
		"description": description,
	}, &card)
	return card, err
}

func (c *Client) UpdateCard(ctx context.Context, cardID string, update CardUpdate) (Card, error) {
	var card Card
	err := c.do(ctx, http.MethodPut, "/api/cards/"+url.PathEscape(cardID), update, &card)
	return card, err
}

func (c *Client) DeleteCard(ctx context.Context, cardID string) error {
	return c.do(ctx, http.MethodDelete, "/api/cards/"+url.PathEscape(cardID), nil, nil)
}

// ReplaceCardOrder writes the full ordering of one column.
func (c *Client) ReplaceCardOrder(ctx context.Context, columnID string, placements []CardPlacement) error {
	return c.do(ctx, http.MethodPut, "/api/columns/"+url.PathEscape(columnID)+"/cards", map[string]any{
		"cards": placements,
	}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			apiErr.Code = envelope.Code
			apiErr.Message = envelope.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
