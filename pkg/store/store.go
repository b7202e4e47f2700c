package store

import (
	"time"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

// Store defines persistence operations for users, chats, messages, and files.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUsername(username string) (bool, error)
	HasEmail(email string) (bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	DeleteUser(id string) error

	// chats
	SaveChat(domain.Chat) error
	ListChatsByOwner(userID string) ([]domain.Chat, error)
	GetChat(id string) (domain.Chat, bool, error)
	DeleteChat(id string) error

	// messages
	AppendMessage(domain.Message) error
	ListMessages(chatID string) ([]domain.Message, error)
	LastMessageOrder(chatID string) (int, error)

	// files
	SaveFile(domain.File) error
	ListFilesByChat(chatID string) ([]domain.File, error)
	ListFilesByOwner(userID string) ([]domain.File, error)
	GetFile(id string) (domain.File, bool, error)
	DeleteFile(id string) error
	SetFileProcessed(id string, content string) error
}

// SessionStore issues and validates access tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user since a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// ResetTokenStore persists single-use password reset tokens.
type ResetTokenStore interface {
	NewToken(userID string, ttl time.Duration) (string, error)
	// Consume validates the token, deletes it, and returns the owning user.
	Consume(token string) (string, error)
}
