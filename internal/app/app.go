// Package app implements the study assistant's core operations on top
// of the persistence, storage, queue, and AI layers.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/johnestech/smart-study-assistant/internal/assistant"
	"github.com/johnestech/smart-study-assistant/internal/files"
	"github.com/johnestech/smart-study-assistant/internal/util"
	"github.com/johnestech/smart-study-assistant/pkg/auth"
	"github.com/johnestech/smart-study-assistant/pkg/domain"
	"github.com/johnestech/smart-study-assistant/pkg/queue"
	"github.com/johnestech/smart-study-assistant/pkg/storage"
	"github.com/johnestech/smart-study-assistant/pkg/store"
)

const resetTokenTTL = time.Hour

// App wires the service dependencies behind the HTTP surface.
type App struct {
	store     store.Store
	sessions  store.SessionStore
	resets    store.ResetTokenStore
	objects   storage.ObjectStore
	jobs      queue.JobQueue
	assistant *assistant.Assistant
	log       *slog.Logger
	now       func() time.Time
}

// Config collects App dependencies.
type Config struct {
	Store       store.Store
	Sessions    store.SessionStore
	ResetTokens store.ResetTokenStore
	Objects     storage.ObjectStore
	Jobs        queue.JobQueue
	Assistant   *assistant.Assistant
	Logger      *slog.Logger
}

// New builds an App.
func New(cfg Config) *App {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &App{
		store:     cfg.Store,
		sessions:  cfg.Sessions,
		resets:    cfg.ResetTokens,
		objects:   cfg.Objects,
		jobs:      cfg.Jobs,
		assistant: cfg.Assistant,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SignUpParams carries registration input.
type SignUpParams struct {
	Username        string
	Email           string
	FirstName       string
	LastName        string
	OtherName       string
	Password        string
	ConfirmPassword string
}

// SignUp registers a new account and opens a session for it.
func (a *App) SignUp(ctx context.Context, p SignUpParams) (domain.User, string, error) {
	username := strings.TrimSpace(p.Username)
	email := strings.ToLower(strings.TrimSpace(p.Email))

	if p.Password != p.ConfirmPassword {
		return domain.User{}, "", ErrPasswordsDoNotMatch
	}
	if err := auth.ValidateUsername(username); err != nil {
		return domain.User{}, "", err
	}
	if !auth.ValidEmail(email) {
		return domain.User{}, "", auth.ErrInvalidEmail
	}
	if err := auth.ValidatePassword(p.Password); err != nil {
		return domain.User{}, "", err
	}

	if taken, err := a.store.HasUsername(username); err != nil {
		return domain.User{}, "", fmt.Errorf("check username: %w", err)
	} else if taken {
		return domain.User{}, "", ErrUsernameExists
	}
	if taken, err := a.store.HasEmail(email); err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	} else if taken {
		return domain.User{}, "", ErrEmailExists
	}

	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        email,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		OtherName:    strings.TrimSpace(p.OtherName),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("open session: %w", err)
	}
	a.log.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, token, nil
}

// Login authenticates by username or email and opens a session.
func (a *App) Login(ctx context.Context, login, password string) (domain.User, string, error) {
	login = strings.TrimSpace(login)
	var (
		user domain.User
		ok   bool
		err  error
	)
	if auth.ValidEmail(login) {
		user, ok, err = a.store.GetUserByEmail(strings.ToLower(login))
	} else {
		user, ok, err = a.store.GetUserByUsername(login)
	}
	if err != nil {
		return domain.User{}, "", fmt.Errorf("look up user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.User{}, "", ErrAccountDeactivated
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("open session: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves the account behind a bearer token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		// Verification failures are client-fault: bad signature, expiry,
		// or revocation.
		return domain.User{}, ErrInvalidToken
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrInvalidToken
	}
	if !user.IsActive {
		return domain.User{}, ErrAccountDeactivated
	}
	return user, nil
}

// Profile returns the account details for userID.
func (a *App) Profile(ctx context.Context, userID string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// ChangePassword rotates the password after verifying the current one.
// All existing sessions are revoked.
func (a *App) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return ErrCurrentPasswordIncorrect
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	return a.setPassword(user, newPassword)
}

// ForgotPassword issues a reset token when the email is registered. The
// returned token is empty for unknown emails so callers cannot probe
// which addresses exist.
func (a *App) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !auth.ValidEmail(email) {
		return "", auth.ErrInvalidEmail
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return "", fmt.Errorf("look up user: %w", err)
	}
	if !ok {
		return "", nil
	}
	token, err := a.resets.NewToken(user.ID, resetTokenTTL)
	if err != nil {
		return "", fmt.Errorf("issue reset token: %w", err)
	}
	// Mail delivery is out of band; the token only appears in logs.
	a.log.Info("password reset token issued", "user_id", user.ID)
	return token, nil
}

// ResetPassword consumes a reset token and sets the new password.
func (a *App) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	userID, err := a.resets.Consume(token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidResetToken) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("consume reset token: %w", err)
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return ErrInvalidResetToken
	}
	return a.setPassword(user, newPassword)
}

func (a *App) setPassword(user domain.User, newPassword string) error {
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	a.revokeSessions(user.ID)
	a.log.Info("security_event", "event", "password_changed", "user_id", user.ID)
	return nil
}

// DeleteAccount removes the account and everything it owns after a
// password confirmation.
func (a *App) DeleteAccount(ctx context.Context, userID, password string) error {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return ErrPasswordIncorrect
	}
	owned, err := a.store.ListFilesByOwner(userID)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	for _, f := range owned {
		if err := a.objects.Delete(ctx, f.FilePath); err != nil {
			a.log.Warn("orphaned object on account delete", "key", f.FilePath, "error", err)
		}
	}
	if err := a.store.DeleteUser(userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	a.revokeSessions(userID)
	a.log.Info("security_event", "event", "account_deleted", "user_id", userID)
	return nil
}

func (a *App) revokeSessions(userID string) {
	if revoker, ok := a.sessions.(store.UserSessionRevoker); ok {
		if err := revoker.RevokeUserSessions(userID, a.now()); err != nil {
			a.log.Warn("session revocation failed", "user_id", userID, "error", err)
		}
	}
}

// ListChats returns the user's active chats, most recently updated
// first.
func (a *App) ListChats(ctx context.Context, userID string) ([]domain.Chat, error) {
	chats, err := a.store.ListChatsByOwner(userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

// CreateChat opens a chat. When firstMessage is given the title is
// generated from it, otherwise the provided or default title is used.
func (a *App) CreateChat(ctx context.Context, userID, title, firstMessage string) (domain.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = domain.DefaultChatTitle
	}
	if strings.TrimSpace(firstMessage) != "" {
		title = a.assistant.GenerateChatTitle(ctx, firstMessage)
	}
	now := a.now()
	chat := domain.Chat{
		ID:        util.NewID(),
		UserID:    userID,
		Title:     title,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// GetChat returns a chat with its messages and files.
func (a *App) GetChat(ctx context.Context, userID, chatID string) (domain.Chat, []domain.Message, []domain.File, error) {
	chat, err := a.ownedChat(userID, chatID)
	if err != nil {
		return domain.Chat{}, nil, nil, err
	}
	messages, err := a.store.ListMessages(chatID)
	if err != nil {
		return domain.Chat{}, nil, nil, fmt.Errorf("list messages: %w", err)
	}
	chatFiles, err := a.store.ListFilesByChat(chatID)
	if err != nil {
		return domain.Chat{}, nil, nil, fmt.Errorf("list files: %w", err)
	}
	return chat, messages, chatFiles, nil
}

// UpdateChatTitle renames a chat.
func (a *App) UpdateChatTitle(ctx context.Context, userID, chatID, title string) (domain.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Chat{}, ErrEmptyTitle
	}
	chat, err := a.ownedChat(userID, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	chat.Title = title
	chat.UpdatedAt = a.now()
	if err := a.store.SaveChat(chat); err != nil {
		return domain.Chat{}, fmt.Errorf("save chat: %w", err)
	}
	return chat, nil
}

// DeleteChat removes a chat with its messages, file records, and stored
// objects.
func (a *App) DeleteChat(ctx context.Context, userID, chatID string) error {
	if _, err := a.ownedChat(userID, chatID); err != nil {
		return err
	}
	chatFiles, err := a.store.ListFilesByChat(chatID)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	for _, f := range chatFiles {
		if err := a.objects.Delete(ctx, f.FilePath); err != nil {
			a.log.Warn("orphaned object on chat delete", "key", f.FilePath, "error", err)
		}
	}
	if err := a.store.DeleteChat(chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return nil
}

// SendMessage appends the user's message, generates the assistant reply
// grounded on the chat's processed documents, and appends that too.
// The first exchange also rewrites the chat title.
func (a *App) SendMessage(ctx context.Context, userID, chatID, content string) (domain.Message, domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, domain.Message{}, ErrEmptyMessage
	}
	chat, err := a.ownedChat(userID, chatID)
	if err != nil {
		return domain.Message{}, domain.Message{}, err
	}

	history, err := a.store.ListMessages(chatID)
	if err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("list messages: %w", err)
	}
	lastOrder, err := a.store.LastMessageOrder(chatID)
	if err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("last message order: %w", err)
	}

	userMsg := domain.Message{
		ID:           util.NewID(),
		ChatID:       chatID,
		Content:      content,
		Role:         domain.RoleUser,
		MessageOrder: lastOrder + 1,
		CreatedAt:    a.now(),
	}
	if err := a.store.AppendMessage(userMsg); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("save user message: %w", err)
	}

	chatFiles, err := a.store.ListFilesByChat(chatID)
	if err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("list files: %w", err)
	}
	var docContents []string
	for _, f := range chatFiles {
		if f.IsProcessed && strings.TrimSpace(f.ProcessedContent) != "" {
			docContents = append(docContents, f.ProcessedContent)
		}
	}

	reply, err := a.assistant.Answer(ctx, content, docContents, history)
	if err != nil {
		// The user message stays; the reply can be retried.
		return domain.Message{}, domain.Message{}, fmt.Errorf("generate reply: %w", err)
	}

	assistantMsg := domain.Message{
		ID:           util.NewID(),
		ChatID:       chatID,
		Content:      reply,
		Role:         domain.RoleAssistant,
		MessageOrder: lastOrder + 2,
		CreatedAt:    a.now(),
	}
	if err := a.store.AppendMessage(assistantMsg); err != nil {
		return domain.Message{}, domain.Message{}, fmt.Errorf("save assistant message: %w", err)
	}

	if userMsg.MessageOrder == 1 {
		chat.Title = a.assistant.GenerateChatTitle(ctx, content)
	}
	chat.UpdatedAt = a.now()
	if err := a.store.SaveChat(chat); err != nil {
		a.log.Warn("chat update after message failed", "chat_id", chatID, "error", err)
	}
	return userMsg, assistantMsg, nil
}

// UploadFile stores the upload and queues it for text extraction. The
// returned record reports is_processed=false until a worker finishes.
func (a *App) UploadFile(ctx context.Context, userID, chatID, filename, contentType string, data []byte) (domain.File, error) {
	if _, err := a.ownedChat(userID, chatID); err != nil {
		return domain.File{}, err
	}
	filename = sanitizeFilename(filename)
	if err := files.Validate(filename, int64(len(data))); err != nil {
		return domain.File{}, err
	}
	key := files.ObjectKey(userID, chatID, filename)
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return domain.File{}, fmt.Errorf("store object: %w", err)
	}
	record := domain.File{
		ID:        util.NewID(),
		ChatID:    chatID,
		UserID:    userID,
		Filename:  filename,
		FileType:  files.FileType(filename),
		FileSize:  int64(len(data)),
		FilePath:  key,
		CreatedAt: a.now(),
	}
	if err := a.store.SaveFile(record); err != nil {
		return domain.File{}, fmt.Errorf("save file record: %w", err)
	}
	if err := a.jobs.Publish(ctx, queue.ExtractionJob{FileID: record.ID}); err != nil {
		a.log.Warn("extraction job publish failed", "file_id", record.ID, "error", err)
	}
	return record, nil
}

// ListChatFiles returns the file records attached to a chat.
func (a *App) ListChatFiles(ctx context.Context, userID, chatID string) ([]domain.File, error) {
	if _, err := a.ownedChat(userID, chatID); err != nil {
		return nil, err
	}
	chatFiles, err := a.store.ListFilesByChat(chatID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return chatFiles, nil
}

// DeleteFile removes a file record and its stored object.
func (a *App) DeleteFile(ctx context.Context, userID, fileID string) error {
	record, ok, err := a.store.GetFile(fileID)
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}
	if !ok || record.UserID != userID {
		return ErrFileNotFound
	}
	if err := a.objects.Delete(ctx, record.FilePath); err != nil {
		a.log.Warn("orphaned object on file delete", "key", record.FilePath, "error", err)
	}
	if err := a.store.DeleteFile(fileID); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return nil
}

// ProcessFile extracts text for an uploaded file and marks the record
// processed. Called by queue workers.
func (a *App) ProcessFile(ctx context.Context, fileID string) error {
	record, ok, err := a.store.GetFile(fileID)
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}
	if !ok {
		a.log.Warn("extraction job for missing file", "file_id", fileID)
		return nil
	}
	if record.IsProcessed {
		return nil
	}
	obj, err := a.objects.Get(ctx, record.FilePath)
	if err != nil {
		return fmt.Errorf("fetch object: %w", err)
	}
	data, err := io.ReadAll(obj)
	obj.Close()
	if err != nil {
		return fmt.Errorf("read object: %w", err)
	}
	content, err := files.ExtractText(data, record.Filename)
	if err != nil {
		return fmt.Errorf("extract %s: %w", record.Filename, err)
	}
	if err := a.store.SetFileProcessed(fileID, content); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	a.log.Info("file processed", "file_id", fileID, "filename", record.Filename,
		"preview", files.Preview(content, 120))
	return nil
}

// ownedChat loads a chat and confirms ownership. Foreign and missing
// chats are indistinguishable to callers.
func (a *App) ownedChat(userID, chatID string) (domain.Chat, error) {
	chat, ok, err := a.store.GetChat(chatID)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("load chat: %w", err)
	}
	if !ok || chat.UserID != userID || !chat.IsActive {
		return domain.Chat{}, ErrChatNotFound
	}
	return chat, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeFilename strips directories and risky characters from an
// uploaded filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	return strings.Trim(name, "._")
}
