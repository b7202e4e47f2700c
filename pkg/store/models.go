package store

import "time"

// GORM models used for persistence.
type UserModel struct {
	ID              string `gorm:"primaryKey"`
	Username        string `gorm:"uniqueIndex;not null"`
	Email           string `gorm:"uniqueIndex;not null"`
	FirstName       string `gorm:"not null"`
	LastName        string `gorm:"not null"`
	OtherName       string
	PasswordHash    string `gorm:"not null"`
	ProfilePhotoURL string
	IsActive        bool      `gorm:"not null;default:true"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time
}

type ChatModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID           string    `gorm:"primaryKey"`
	ChatID       string    `gorm:"not null;index;uniqueIndex:idx_chat_message_order"`
	Role         string    `gorm:"not null"`
	Content      string    `gorm:"type:text;not null"`
	MessageOrder int       `gorm:"not null;uniqueIndex:idx_chat_message_order"`
	CreatedAt    time.Time `gorm:"not null"`
}

type FileModel struct {
	ID               string    `gorm:"primaryKey"`
	ChatID           string    `gorm:"not null;index"`
	UserID           string    `gorm:"not null;index"`
	Filename         string    `gorm:"not null"`
	FileType         string    `gorm:"not null"`
	FileSize         int64     `gorm:"not null"`
	FilePath         string    `gorm:"not null"`
	IsProcessed      bool      `gorm:"not null;default:false"`
	ProcessedContent string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null;index"`
}
