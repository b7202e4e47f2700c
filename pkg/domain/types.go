package domain

import "time"

// MessageRole enumerates the author of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// DefaultChatTitle is assigned to chats until the first exchange renames them.
const DefaultChatTitle = "New Chat"

// TitleMaxLength bounds derived chat titles.
const TitleMaxLength = 50

type User struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	OtherName       string    `json:"other_name"`
	PasswordHash    string    `json:"-"`
	ProfilePhotoURL string    `json:"profile_photo_url,omitempty"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message belongs to exactly one chat. MessageOrder is unique and strictly
// increasing within the chat.
type Message struct {
	ID           string      `json:"id"`
	ChatID       string      `json:"chat_id"`
	Content      string      `json:"content"`
	Role         MessageRole `json:"role"`
	MessageOrder int         `json:"message_order"`
	CreatedAt    time.Time   `json:"created_at"`
}

type File struct {
	ID               string    `json:"id"`
	ChatID           string    `json:"chat_id"`
	UserID           string    `json:"user_id"`
	Filename         string    `json:"filename"`
	FileType         string    `json:"file_type"`
	FileSize         int64     `json:"file_size"`
	FilePath         string    `json:"file_path"`
	IsProcessed      bool      `json:"is_processed"`
	ProcessedContent string    `json:"processed_content,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// TruncateTitle derives a chat title from message content, capped at
// TitleMaxLength with an ellipsis, counting runes so multi-byte text is not
// split mid-character.
func TruncateTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= TitleMaxLength {
		return content
	}
	return string(runes[:TitleMaxLength-3]) + "..."
}
