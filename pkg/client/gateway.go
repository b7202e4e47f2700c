// Package client is the Go SDK for the study assistant API. It bundles a
// persistent session store, a typed HTTP gateway, and an in-memory chat
// manager that mirrors server state for interactive frontends.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

// APIError carries the HTTP status and server-provided message of a failed
// request.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// Gateway performs authenticated requests against the backend. The bearer
// token is read from the session store on every request; a 401 response from
// any endpoint clears the session and fires the unauthorized hook.
type Gateway struct {
	baseURL        string
	httpClient     *http.Client
	sessions       *SessionStore
	onUnauthorized func()
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(g *Gateway) { g.httpClient = c }
}

// WithUnauthorizedHook registers a callback invoked whenever the server
// rejects a request with 401, after the local session has been cleared.
func WithUnauthorizedHook(fn func()) GatewayOption {
	return func(g *Gateway) { g.onUnauthorized = fn }
}

func NewGateway(baseURL string, sessions *SessionStore, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		sessions:   sessions,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Sessions exposes the store the gateway was built with.
func (g *Gateway) Sessions() *SessionStore { return g.sessions }

type authPayload struct {
	Message     string      `json:"message"`
	User        domain.User `json:"user"`
	AccessToken string      `json:"access_token"`
}

type messageOnly struct {
	Message string `json:"message"`
}

// SignupParams carries the fields for account creation.
type SignupParams struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	OtherName       string `json:"other_name,omitempty"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Signup creates an account and, on success, stores the authenticated
// session. A failed signup leaves the session store untouched.
func (g *Gateway) Signup(ctx context.Context, params SignupParams) (domain.User, error) {
	var out authPayload
	if err := g.doJSON(ctx, http.MethodPost, "/auth/signup", params, &out); err != nil {
		return domain.User{}, err
	}
	if out.AccessToken == "" {
		return domain.User{}, fmt.Errorf("signup response missing access token")
	}
	if err := g.sessions.SetSession(out.User, out.AccessToken); err != nil {
		return domain.User{}, fmt.Errorf("persist session: %w", err)
	}
	return out.User, nil
}

// Login authenticates with a username or email and stores the session on
// success.
func (g *Gateway) Login(ctx context.Context, login, password string) (domain.User, error) {
	body := map[string]string{"login": login, "password": password}
	var out authPayload
	if err := g.doJSON(ctx, http.MethodPost, "/auth/login", body, &out); err != nil {
		return domain.User{}, err
	}
	if out.AccessToken == "" {
		return domain.User{}, fmt.Errorf("login response missing access token")
	}
	if err := g.sessions.SetSession(out.User, out.AccessToken); err != nil {
		return domain.User{}, fmt.Errorf("persist session: %w", err)
	}
	return out.User, nil
}

// Logout clears the local session. The backend session itself expires with
// the token.
func (g *Gateway) Logout() error {
	return g.sessions.Clear()
}

// Profile fetches the authenticated user's profile and refreshes the stored
// user snapshot.
func (g *Gateway) Profile(ctx context.Context) (domain.User, error) {
	var out struct {
		User domain.User `json:"user"`
	}
	if err := g.doJSON(ctx, http.MethodGet, "/auth/profile", nil, &out); err != nil {
		return domain.User{}, err
	}
	profile := out.User
	_ = g.sessions.UpdateUser(func(u *domain.User) { *u = profile })
	return profile, nil
}

func (g *Gateway) ChangePassword(ctx context.Context, current, newPassword string) error {
	body := map[string]string{"current_password": current, "new_password": newPassword}
	return g.doJSON(ctx, http.MethodPost, "/auth/change-password", body, &messageOnly{})
}

func (g *Gateway) ForgotPassword(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return g.doJSON(ctx, http.MethodPost, "/auth/forgot-password", body, &messageOnly{})
}

func (g *Gateway) ResetPassword(ctx context.Context, token, newPassword string) error {
	body := map[string]string{"token": token, "new_password": newPassword}
	return g.doJSON(ctx, http.MethodPost, "/auth/reset-password", body, &messageOnly{})
}

// DeleteAccount removes the account after password confirmation and clears
// the local session.
func (g *Gateway) DeleteAccount(ctx context.Context, password string) error {
	body := map[string]string{"password": password}
	if err := g.doJSON(ctx, http.MethodDelete, "/auth/delete-account", body, &messageOnly{}); err != nil {
		return err
	}
	return g.sessions.Clear()
}

// Health checks backend liveness.
func (g *Gateway) Health(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return g.doJSON(ctx, http.MethodGet, "/health", nil, &out)
}

func (g *Gateway) ListChats(ctx context.Context) ([]domain.Chat, error) {
	var out struct {
		Chats []domain.Chat `json:"chats"`
	}
	if err := g.doJSON(ctx, http.MethodGet, "/chats", nil, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

func (g *Gateway) CreateChat(ctx context.Context, title, firstMessage string) (domain.Chat, error) {
	body := map[string]string{"title": title, "first_message": firstMessage}
	var out struct {
		Chat domain.Chat `json:"chat"`
	}
	if err := g.doJSON(ctx, http.MethodPost, "/chats", body, &out); err != nil {
		return domain.Chat{}, err
	}
	if out.Chat.ID == "" {
		return domain.Chat{}, fmt.Errorf("create chat response missing chat id")
	}
	return out.Chat, nil
}

// ChatDetail is the full server-side view of one chat.
type ChatDetail struct {
	Chat     domain.Chat      `json:"chat"`
	Messages []domain.Message `json:"messages"`
	Files    []domain.File    `json:"files"`
}

func (g *Gateway) GetChat(ctx context.Context, chatID string) (ChatDetail, error) {
	var out ChatDetail
	if err := g.doJSON(ctx, http.MethodGet, "/chats/"+chatID, nil, &out); err != nil {
		return ChatDetail{}, err
	}
	return out, nil
}

func (g *Gateway) UpdateChatTitle(ctx context.Context, chatID, title string) (domain.Chat, error) {
	body := map[string]string{"title": title}
	var out struct {
		Chat domain.Chat `json:"chat"`
	}
	if err := g.doJSON(ctx, http.MethodPut, "/chats/"+chatID, body, &out); err != nil {
		return domain.Chat{}, err
	}
	return out.Chat, nil
}

func (g *Gateway) DeleteChat(ctx context.Context, chatID string) error {
	return g.doJSON(ctx, http.MethodDelete, "/chats/"+chatID, nil, nil)
}

// SendResult is the pair of persisted messages produced by one exchange.
type SendResult struct {
	UserMessage      domain.Message `json:"user_message"`
	AssistantMessage domain.Message `json:"assistant_message"`
}

func (g *Gateway) SendMessage(ctx context.Context, chatID, content string) (SendResult, error) {
	body := map[string]string{"content": content}
	var out SendResult
	if err := g.doJSON(ctx, http.MethodPost, "/chats/"+chatID+"/messages", body, &out); err != nil {
		return SendResult{}, err
	}
	if out.AssistantMessage.ID == "" {
		return SendResult{}, fmt.Errorf("send message response missing assistant message")
	}
	return out, nil
}

func (g *Gateway) ListFiles(ctx context.Context, chatID string) ([]domain.File, error) {
	var out struct {
		Files []domain.File `json:"files"`
	}
	if err := g.doJSON(ctx, http.MethodGet, "/chats/"+chatID+"/files", nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// UploadFile sends a document as multipart form data and returns the stored
// record. Extraction happens asynchronously; the record starts unprocessed.
func (g *Gateway) UploadFile(ctx context.Context, chatID, filename string, data []byte) (domain.File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return domain.File{}, fmt.Errorf("build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return domain.File{}, fmt.Errorf("build multipart body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.File{}, fmt.Errorf("build multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+"/chats/"+chatID+"/files", &buf)
	if err != nil {
		return domain.File{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		File domain.File `json:"file"`
	}
	if err := g.do(req, &out); err != nil {
		return domain.File{}, err
	}
	return out.File, nil
}

func (g *Gateway) DeleteFile(ctx context.Context, fileID string) error {
	return g.doJSON(ctx, http.MethodDelete, "/files/"+fileID, nil, nil)
}

func (g *Gateway) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return g.do(req, out)
}

func (g *Gateway) do(req *http.Request, out any) error {
	if token := g.sessions.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		_ = g.sessions.Clear()
		if g.onUnauthorized != nil {
			g.onUnauthorized()
		}
	}
	if resp.StatusCode >= 400 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 1<<16))
	if err != nil {
		return "request failed"
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "request failed"
	}
	return msg
}
