package store

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ChatModel{}, &MessageModel{}, &FileModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	if err := db.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'message_models'
				AND constraint_name = 'message_models_chat_id_fkey'
			) THEN
				ALTER TABLE message_models
				ADD CONSTRAINT message_models_chat_id_fkey
				FOREIGN KEY (chat_id) REFERENCES chat_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'file_models'
				AND constraint_name = 'file_models_chat_id_fkey'
			) THEN
				ALTER TABLE file_models
				ADD CONSTRAINT file_models_chat_id_fkey
				FOREIGN KEY (chat_id) REFERENCES chat_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public'
				AND table_name = 'chat_models'
				AND constraint_name = 'chat_models_user_id_fkey'
			) THEN
				ALTER TABLE chat_models
				ADD CONSTRAINT chat_models_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; err != nil {
		return nil, fmt.Errorf("ensure foreign keys: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "email", "first_name", "last_name", "other_name", "password_hash", "profile_photo_url", "is_active", "updated_at"}),
	}).Create(&model).Error
}

// HasUsername checks if a username is taken.
func (s *GormStore) HasUsername(username string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasEmail checks if an email is registered.
func (s *GormStore) HasEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	return s.getUser("username = ?", username)
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	return s.getUser("email = ?", email)
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	return s.getUser("id = ?", id)
}

func (s *GormStore) getUser(cond string, arg any) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where(cond, arg).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// DeleteUser removes the account; chats, messages, and files follow via the
// FK cascade.
func (s *GormStore) DeleteUser(id string) error {
	return s.db.Delete(&UserModel{}, "id = ?", id).Error
}

// SaveChat stores or updates a chat.
func (s *GormStore) SaveChat(c domain.Chat) error {
	model := chatToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "is_active", "updated_at"}),
	}).Create(&model).Error
}

// ListChatsByOwner returns the user's active chats, most recently updated first.
func (s *GormStore) ListChatsByOwner(userID string) ([]domain.Chat, error) {
	var models []ChatModel
	if err := s.db.Where("user_id = ? AND is_active = ?", userID, true).
		Order("updated_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	chats := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		chats = append(chats, chatFromModel(m))
	}
	return chats, nil
}

// GetChat retrieves a chat.
func (s *GormStore) GetChat(id string) (domain.Chat, bool, error) {
	var model ChatModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Chat{}, false, nil
		}
		return domain.Chat{}, false, err
	}
	return chatFromModel(model), true, nil
}

// DeleteChat removes a chat together with its messages and file records.
func (s *GormStore) DeleteChat(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&MessageModel{}, "chat_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&FileModel{}, "chat_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ChatModel{}, "id = ?", id).Error
	})
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns all messages of a chat in order.
func (s *GormStore) ListMessages(chatID string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("chat_id = ?", chatID).
		Order("message_order ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

// LastMessageOrder returns the highest order index in a chat, 0 when empty.
func (s *GormStore) LastMessageOrder(chatID string) (int, error) {
	var model MessageModel
	err := s.db.Where("chat_id = ?", chatID).
		Order("message_order DESC").
		First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return model.MessageOrder, nil
}

// SaveFile stores a file record.
func (s *GormStore) SaveFile(f domain.File) error {
	model := fileToModel(f)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_processed", "processed_content"}),
	}).Create(&model).Error
}

// ListFilesByChat returns files of a chat, newest first.
func (s *GormStore) ListFilesByChat(chatID string) ([]domain.File, error) {
	return s.listFiles("chat_id = ?", chatID)
}

// ListFilesByOwner returns all files uploaded by a user.
func (s *GormStore) ListFilesByOwner(userID string) ([]domain.File, error) {
	return s.listFiles("user_id = ?", userID)
}

func (s *GormStore) listFiles(cond string, arg any) ([]domain.File, error) {
	var models []FileModel
	if err := s.db.Where(cond, arg).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	files := make([]domain.File, 0, len(models))
	for _, m := range models {
		files = append(files, fileFromModel(m))
	}
	return files, nil
}

// GetFile retrieves a file record.
func (s *GormStore) GetFile(id string) (domain.File, bool, error) {
	var model FileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

// DeleteFile removes a file record.
func (s *GormStore) DeleteFile(id string) error {
	return s.db.Delete(&FileModel{}, "id = ?", id).Error
}

// SetFileProcessed stores extracted content and flips the processed flag.
func (s *GormStore) SetFileProcessed(id string, content string) error {
	return s.db.Model(&FileModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_content": content,
			"is_processed":      true,
		}).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		OtherName:       u.OtherName,
		PasswordHash:    u.PasswordHash,
		ProfilePhotoURL: u.ProfilePhotoURL,
		IsActive:        u.IsActive,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:              m.ID,
		Username:        m.Username,
		Email:           m.Email,
		FirstName:       m.FirstName,
		LastName:        m.LastName,
		OtherName:       m.OtherName,
		PasswordHash:    m.PasswordHash,
		ProfilePhotoURL: m.ProfilePhotoURL,
		IsActive:        m.IsActive,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func chatToModel(c domain.Chat) ChatModel {
	return ChatModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		IsActive:  c.IsActive,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:           msg.ID,
		ChatID:       msg.ChatID,
		Role:         string(msg.Role),
		Content:      msg.Content,
		MessageOrder: msg.MessageOrder,
		CreatedAt:    msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:           m.ID,
		ChatID:       m.ChatID,
		Role:         domain.MessageRole(m.Role),
		Content:      m.Content,
		MessageOrder: m.MessageOrder,
		CreatedAt:    m.CreatedAt,
	}
}

func fileToModel(f domain.File) FileModel {
	return FileModel{
		ID:               f.ID,
		ChatID:           f.ChatID,
		UserID:           f.UserID,
		Filename:         f.Filename,
		FileType:         f.FileType,
		FileSize:         f.FileSize,
		FilePath:         f.FilePath,
		IsProcessed:      f.IsProcessed,
		ProcessedContent: f.ProcessedContent,
		CreatedAt:        f.CreatedAt,
	}
}

func fileFromModel(m FileModel) domain.File {
	return domain.File{
		ID:               m.ID,
		ChatID:           m.ChatID,
		UserID:           m.UserID,
		Filename:         m.Filename,
		FileType:         m.FileType,
		FileSize:         m.FileSize,
		FilePath:         m.FilePath,
		IsProcessed:      m.IsProcessed,
		ProcessedContent: m.ProcessedContent,
		CreatedAt:        m.CreatedAt,
	}
}
