package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

// MemoryStore keeps all records in-process. It backs tests and local
// development without Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	username map[string]string // username -> user ID
	email    map[string]string // email -> user ID
	chats    map[string]domain.Chat
	messages map[string][]domain.Message // chat ID -> ordered messages
	files    map[string]domain.File
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		username: make(map[string]string),
		email:    make(map[string]string),
		chats:    make(map[string]domain.Chat),
		messages: make(map[string][]domain.Message),
		files:    make(map[string]domain.File),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok {
		delete(m.username, prev.Username)
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.username[u.Username] = u.ID
	m.email[u.Email] = u.ID
	return nil
}

// HasUsername checks if a username is taken.
func (m *MemoryStore) HasUsername(username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.username[username]
	return ok, nil
}

// HasEmail checks if an email is registered.
func (m *MemoryStore) HasEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByUsername looks up a user by username.
func (m *MemoryStore) GetUserByUsername(username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.username[username]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// DeleteUser removes the account and everything it owns.
func (m *MemoryStore) DeleteUser(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	delete(m.users, id)
	delete(m.username, u.Username)
	delete(m.email, u.Email)
	for chatID, chat := range m.chats {
		if chat.UserID == id {
			delete(m.chats, chatID)
			delete(m.messages, chatID)
		}
	}
	for fileID, f := range m.files {
		if f.UserID == id {
			delete(m.files, fileID)
		}
	}
	return nil
}

// SaveChat stores or updates a chat.
func (m *MemoryStore) SaveChat(c domain.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats[c.ID] = c
	return nil
}

// ListChatsByOwner returns the user's active chats, most recently updated first.
func (m *MemoryStore) ListChatsByOwner(userID string) ([]domain.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Chat, 0)
	for _, c := range m.chats {
		if c.UserID == userID && c.IsActive {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].UpdatedAt.After(res[j].UpdatedAt)
	})
	return res, nil
}

// GetChat retrieves a chat by ID.
func (m *MemoryStore) GetChat(id string) (domain.Chat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	return c, ok, nil
}

// DeleteChat removes a chat with its messages and file records.
func (m *MemoryStore) DeleteChat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, id)
	delete(m.messages, id)
	for fileID, f := range m.files {
		if f.ChatID == id {
			delete(m.files, fileID)
		}
	}
	return nil
}

// AppendMessage records a message. Order indices are unique per chat,
// matching the database constraint.
func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.messages[msg.ChatID] {
		if existing.MessageOrder == msg.MessageOrder {
			return fmt.Errorf("duplicate message order %d in chat %s", msg.MessageOrder, msg.ChatID)
		}
	}
	m.messages[msg.ChatID] = append(m.messages[msg.ChatID], msg)
	return nil
}

// ListMessages returns all messages of a chat in order.
func (m *MemoryStore) ListMessages(chatID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := append([]domain.Message(nil), m.messages[chatID]...)
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].MessageOrder < msgs[j].MessageOrder
	})
	return msgs, nil
}

// LastMessageOrder returns the highest order index in a chat, 0 when empty.
func (m *MemoryStore) LastMessageOrder(chatID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last := 0
	for _, msg := range m.messages[chatID] {
		if msg.MessageOrder > last {
			last = msg.MessageOrder
		}
	}
	return last, nil
}

// SaveFile stores or updates a file record.
func (m *MemoryStore) SaveFile(f domain.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = f
	return nil
}

// ListFilesByChat returns files of a chat, newest first.
func (m *MemoryStore) ListFilesByChat(chatID string) ([]domain.File, error) {
	return m.listFiles(func(f domain.File) bool { return f.ChatID == chatID })
}

// ListFilesByOwner returns all files uploaded by a user.
func (m *MemoryStore) ListFilesByOwner(userID string) ([]domain.File, error) {
	return m.listFiles(func(f domain.File) bool { return f.UserID == userID })
}

func (m *MemoryStore) listFiles(match func(domain.File) bool) ([]domain.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.File, 0)
	for _, f := range m.files {
		if match(f) {
			res = append(res, f)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

// GetFile retrieves a file record by ID.
func (m *MemoryStore) GetFile(id string) (domain.File, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	return f, ok, nil
}

// DeleteFile removes a file record.
func (m *MemoryStore) DeleteFile(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, id)
	return nil
}

// SetFileProcessed stores extracted content and flips the processed flag.
func (m *MemoryStore) SetFileProcessed(id string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil
	}
	f.ProcessedContent = content
	f.IsProcessed = true
	m.files[id] = f
	return nil
}
