// Package chatclient is a Go client of the chat service: a REST API
// client, a push connection and the Synchronizer that merges both into a
// consistent local view.
package chatclient

import (
	"bytes"
	"campuschat/backend/internal/chat"
	"campuschat/backend/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chat api: %d %s", e.Status, e.Message)
}

// HTTPAPI talks to the /api/v1 REST surface.
type HTTPAPI struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPAPI(baseURL, token string, hc *http.Client) *HTTPAPI {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAPI{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: hc}
}

func (a *HTTPAPI) Token() string { return a.token }

// SetToken replaces the bearer token used for later calls.
func (a *HTTPAPI) SetToken(token string) { a.token = token }

func (a *HTTPAPI) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// IssueDevToken asks the development issuer for a token and starts using it.
func (a *HTTPAPI) IssueDevToken(ctx context.Context, p models.Participant) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := a.do(ctx, http.MethodPost, "/auth/token", p, &out); err != nil {
		return "", err
	}
	a.token = out.Token
	return out.Token, nil
}

func (a *HTTPAPI) OpenRoom(ctx context.Context, peer models.Participant) (*models.ChatRoom, error) {
	var room models.ChatRoom
	if err := a.do(ctx, http.MethodPost, "/api/v1/rooms", map[string]any{"user_b": peer}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func (a *HTTPAPI) ListRooms(ctx context.Context) ([]chat.RoomSummary, error) {
	var out struct {
		Rooms []chat.RoomSummary `json:"rooms"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v1/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (a *HTTPAPI) Messages(ctx context.Context, roomID string, page, pageSize int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	path := "/api/v1/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (a *HTTPAPI) Send(ctx context.Context, roomID, content string) (*models.Message, error) {
	var msg models.Message
	path := "/api/v1/rooms/" + url.PathEscape(roomID) + "/messages"
	if err := a.do(ctx, http.MethodPost, path, map[string]any{"content": content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (a *HTTPAPI) MarkRead(ctx context.Context, roomID string) (int64, error) {
	var out struct {
		Marked int64 `json:"marked"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/v1/rooms/"+url.PathEscape(roomID)+"/read", nil, &out); err != nil {
		return 0, err
	}
	return out.Marked, nil
}

func (a *HTTPAPI) TotalUnread(ctx context.Context) (int64, error) {
	var out struct {
		Unread int64 `json:"unread"`
	}
	if err := a.do(ctx, http.MethodGet, "/api/v1/unread", nil, &out); err != nil {
		return 0, err
	}
	return out.Unread, nil
}
