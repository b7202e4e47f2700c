package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

// ErrNoActiveChat is returned when a message is sent with no chat selected.
var ErrNoActiveChat = errors.New("no active chat")

// DeliveryStatus tracks a locally appended message through its round trip.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "pending"
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
)

// ChatMessage is a message as the client sees it: the server record plus the
// local delivery status. Optimistically appended messages carry no server ID
// until the exchange succeeds.
type ChatMessage struct {
	domain.Message
	Status DeliveryStatus `json:"status"`
}

// ChatManager mirrors one user's chats in memory. All mutating calls are safe
// for concurrent use; network requests run outside the lock so slow exchanges
// never block reads or other sends.
type ChatManager struct {
	gw *Gateway

	mu       sync.Mutex
	chats    []domain.Chat
	current  *domain.Chat
	messages []ChatMessage
	files    []domain.File
	loadGen  uint64
}

func NewChatManager(gw *Gateway) *ChatManager {
	return &ChatManager{gw: gw}
}

// LoadChats refreshes the chat list. On failure the existing list is kept.
func (m *ChatManager) LoadChats(ctx context.Context) error {
	chats, err := m.gw.ListChats(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = chats
	return nil
}

// LoadChat selects a chat and replaces the message and file views with the
// server's. On failure all local state is left untouched. When loads overlap,
// only the most recently requested one is applied; responses for superseded
// loads are discarded.
func (m *ChatManager) LoadChat(ctx context.Context, chatID string) error {
	m.mu.Lock()
	m.loadGen++
	gen := m.loadGen
	m.mu.Unlock()

	detail, err := m.gw.GetChat(ctx, chatID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.loadGen {
		return nil
	}
	chat := detail.Chat
	m.current = &chat
	m.messages = make([]ChatMessage, 0, len(detail.Messages))
	for _, msg := range detail.Messages {
		m.messages = append(m.messages, ChatMessage{Message: msg, Status: StatusSent})
	}
	m.files = detail.Files
	m.upsertChat(chat)
	return nil
}

// NewChat creates a chat, prepends it to the list, and makes it current with
// an empty message view.
func (m *ChatManager) NewChat(ctx context.Context, title string) (domain.Chat, error) {
	chat, err := m.gw.CreateChat(ctx, title, "")
	if err != nil {
		return domain.Chat{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chats = append([]domain.Chat{chat}, m.chats...)
	current := chat
	m.current = &current
	m.messages = nil
	m.files = nil
	return chat, nil
}

// SendMessage appends the user's message optimistically, dispatches the
// exchange, and appends the assistant reply on success. On failure the
// optimistic message is marked failed but never removed. A reply arriving
// after the view moved to another chat is returned but not applied. When the exchange
// completes the first pair in a chat, the title is rederived from the message
// content locally and pushed to the server.
func (m *ChatManager) SendMessage(ctx context.Context, content string) (ChatMessage, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ChatMessage{}, ErrNoActiveChat
	}
	chatID := m.current.ID
	pending := ChatMessage{
		Message: domain.Message{
			ChatID:    chatID,
			Content:   content,
			Role:      domain.RoleUser,
			CreatedAt: time.Now().UTC(),
		},
		Status: StatusPending,
	}
	idx := len(m.messages)
	m.messages = append(m.messages, pending)
	m.mu.Unlock()

	result, err := m.gw.SendMessage(ctx, chatID, content)

	m.mu.Lock()
	active := m.current != nil && m.current.ID == chatID
	pos := m.findPending(chatID, content, idx)
	if err != nil {
		if pos >= 0 {
			m.messages[pos].Status = StatusFailed
		}
		m.mu.Unlock()
		return ChatMessage{}, err
	}
	assistant := ChatMessage{Message: result.AssistantMessage, Status: StatusSent}
	if !active {
		m.mu.Unlock()
		return assistant, nil
	}
	if pos >= 0 {
		m.messages[pos] = ChatMessage{Message: result.UserMessage, Status: StatusSent}
	}
	m.messages = append(m.messages, assistant)
	firstExchange := len(m.messages) == 2
	if firstExchange {
		title := domain.TruncateTitle(content)
		m.current.Title = title
		m.upsertChatTitle(chatID, title)
	}
	m.mu.Unlock()

	if firstExchange {
		if chat, err := m.gw.UpdateChatTitle(ctx, chatID, domain.TruncateTitle(content)); err == nil {
			m.mu.Lock()
			m.upsertChat(chat)
			if m.current != nil && m.current.ID == chat.ID {
				*m.current = chat
			}
			m.mu.Unlock()
		}
	}
	return assistant, nil
}

// RemoveChat deletes a chat server-side and drops it from the list. Removing
// the active chat also clears the message and file views; removing any other
// chat leaves them alone.
func (m *ChatManager) RemoveChat(ctx context.Context, chatID string) error {
	if err := m.gw.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.chats[:0]
	for _, c := range m.chats {
		if c.ID != chatID {
			kept = append(kept, c)
		}
	}
	m.chats = kept
	if m.current != nil && m.current.ID == chatID {
		m.current = nil
		m.messages = nil
		m.files = nil
	}
	return nil
}

// RenameChat updates a chat title server-side and locally.
func (m *ChatManager) RenameChat(ctx context.Context, chatID, title string) error {
	chat, err := m.gw.UpdateChatTitle(ctx, chatID, title)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertChat(chat)
	if m.current != nil && m.current.ID == chat.ID {
		*m.current = chat
	}
	return nil
}

// UploadFile attaches a document to the active chat and records it in the
// file view.
func (m *ChatManager) UploadFile(ctx context.Context, filename string, data []byte) (domain.File, error) {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return domain.File{}, ErrNoActiveChat
	}
	chatID := m.current.ID
	m.mu.Unlock()

	record, err := m.gw.UploadFile(ctx, chatID, filename, data)
	if err != nil {
		return domain.File{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.ID == chatID {
		m.files = append(m.files, record)
	}
	return record, nil
}

// RemoveFile deletes a document server-side and drops it from the file view.
func (m *ChatManager) RemoveFile(ctx context.Context, fileID string) error {
	if err := m.gw.DeleteFile(ctx, fileID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.files[:0]
	for _, f := range m.files {
		if f.ID != fileID {
			kept = append(kept, f)
		}
	}
	m.files = kept
	return nil
}

// Chats returns a copy of the chat list.
func (m *ChatManager) Chats() []domain.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Chat, len(m.chats))
	copy(out, m.chats)
	return out
}

// Current returns the active chat, if any.
func (m *ChatManager) Current() (domain.Chat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return domain.Chat{}, false
	}
	return *m.current, true
}

// Messages returns a copy of the active chat's message view.
func (m *ChatManager) Messages() []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

// Files returns a copy of the active chat's file view.
func (m *ChatManager) Files() []domain.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.File, len(m.files))
	copy(out, m.files)
	return out
}

// findPending locates the optimistic message for an in-flight exchange. The
// hint index is where it was appended; concurrent sends and loads may have
// moved or replaced it, so fall back to scanning for a pending message with
// matching content.
func (m *ChatManager) findPending(chatID, content string, hint int) int {
	if hint < len(m.messages) {
		msg := m.messages[hint]
		if msg.Status == StatusPending && msg.ChatID == chatID && msg.Content == content {
			return hint
		}
	}
	for i, msg := range m.messages {
		if msg.Status == StatusPending && msg.ChatID == chatID && msg.Content == content {
			return i
		}
	}
	return -1
}

func (m *ChatManager) upsertChat(chat domain.Chat) {
	for i, c := range m.chats {
		if c.ID == chat.ID {
			m.chats[i] = chat
			return
		}
	}
	m.chats = append([]domain.Chat{chat}, m.chats...)
}

func (m *ChatManager) upsertChatTitle(chatID, title string) {
	for i, c := range m.chats {
		if c.ID == chatID {
			m.chats[i].Title = title
			return
		}
	}
}
