package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

// fakeBackend is a minimal in-memory chat API for manager tests.
type fakeBackend struct {
	mu           sync.Mutex
	chats        map[string]*domain.Chat
	messages     map[string][]domain.Message
	files        map[string][]domain.File
	nextID       int
	failSend     bool
	titleUpdates []string

	// blockGet, when set, holds GET /chats/{id} requests for the named chat
	// until the channel is closed.
	blockGetChat string
	blockGet     chan struct{}
	getArrived   chan struct{}

	// blockSend does the same for POST /chats/{id}/messages.
	blockSendChat string
	blockSend     chan struct{}
	sendArrived   chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chats:    map[string]*domain.Chat{},
		messages: map[string][]domain.Message{},
		files:    map[string][]domain.File{},
	}
}

func (b *fakeBackend) id(prefix string) string {
	b.nextID++
	return fmt.Sprintf("%s%d", prefix, b.nextID)
}

func (b *fakeBackend) addChat(title string) domain.Chat {
	b.mu.Lock()
	defer b.mu.Unlock()
	chat := domain.Chat{ID: b.id("c"), UserID: "u1", Title: title, IsActive: true, CreatedAt: time.Now().UTC()}
	b.chats[chat.ID] = &chat
	return chat
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeOK := func(status int, payload any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}
	writeErr := func(status int, msg string) {
		writeOK(status, map[string]string{"error": msg})
	}

	switch {
	case r.URL.Path == "/chats" && r.Method == http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Title == "" {
			req.Title = domain.DefaultChatTitle
		}
		chat := b.addChat(req.Title)
		writeOK(http.StatusCreated, map[string]any{"chat": chat})

	case r.URL.Path == "/chats" && r.Method == http.MethodGet:
		b.mu.Lock()
		chats := make([]domain.Chat, 0, len(b.chats))
		for _, c := range b.chats {
			chats = append(chats, *c)
		}
		b.mu.Unlock()
		writeOK(http.StatusOK, map[string]any{"chats": chats})

	case strings.HasPrefix(r.URL.Path, "/chats/") && strings.HasSuffix(r.URL.Path, "/messages"):
		chatID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/chats/"), "/messages")
		b.handleSend(w, r, chatID, writeOK, writeErr)

	case strings.HasPrefix(r.URL.Path, "/chats/"):
		chatID := strings.TrimPrefix(r.URL.Path, "/chats/")
		b.handleChat(w, r, chatID, writeOK, writeErr)

	default:
		writeErr(http.StatusNotFound, "not found")
	}
}

func (b *fakeBackend) handleSend(w http.ResponseWriter, r *http.Request, chatID string,
	writeOK func(int, any), writeErr func(int, string)) {
	var req struct {
		Content string `json:"content"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	b.mu.Lock()
	blocked := b.blockSendChat == chatID
	arrived := b.sendArrived
	block := b.blockSend
	b.mu.Unlock()
	if blocked {
		if arrived != nil {
			close(arrived)
		}
		<-block
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSend {
		writeErr(http.StatusInternalServerError, "internal server error")
		return
	}
	if _, ok := b.chats[chatID]; !ok {
		writeErr(http.StatusNotFound, "Chat not found")
		return
	}
	order := len(b.messages[chatID])
	userMsg := domain.Message{
		ID: b.id("m"), ChatID: chatID, Content: req.Content,
		Role: domain.RoleUser, MessageOrder: order + 1, CreatedAt: time.Now().UTC(),
	}
	assistantMsg := domain.Message{
		ID: b.id("m"), ChatID: chatID, Content: "reply to: " + req.Content,
		Role: domain.RoleAssistant, MessageOrder: order + 2, CreatedAt: time.Now().UTC(),
	}
	b.messages[chatID] = append(b.messages[chatID], userMsg, assistantMsg)
	writeOK(http.StatusCreated, map[string]any{
		"user_message":      userMsg,
		"assistant_message": assistantMsg,
	})
}

func (b *fakeBackend) handleChat(w http.ResponseWriter, r *http.Request, chatID string,
	writeOK func(int, any), writeErr func(int, string)) {
	switch r.Method {
	case http.MethodGet:
		b.mu.Lock()
		blocked := b.blockGetChat == chatID
		arrived := b.getArrived
		block := b.blockGet
		b.mu.Unlock()
		if blocked {
			if arrived != nil {
				close(arrived)
			}
			<-block
		}
		b.mu.Lock()
		chat, ok := b.chats[chatID]
		if !ok {
			b.mu.Unlock()
			writeErr(http.StatusNotFound, "Chat not found")
			return
		}
		payload := map[string]any{
			"chat":     *chat,
			"messages": append([]domain.Message{}, b.messages[chatID]...),
			"files":    append([]domain.File{}, b.files[chatID]...),
		}
		b.mu.Unlock()
		writeOK(http.StatusOK, payload)
	case http.MethodPut:
		var req struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.mu.Lock()
		chat, ok := b.chats[chatID]
		if !ok {
			b.mu.Unlock()
			writeErr(http.StatusNotFound, "Chat not found")
			return
		}
		chat.Title = req.Title
		b.titleUpdates = append(b.titleUpdates, req.Title)
		updated := *chat
		b.mu.Unlock()
		writeOK(http.StatusOK, map[string]any{"chat": updated})
	case http.MethodDelete:
		b.mu.Lock()
		delete(b.chats, chatID)
		delete(b.messages, chatID)
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErr(http.StatusMethodNotAllowed, "method not allowed")
	}
}

func newTestManager(t *testing.T) (*ChatManager, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	gw := NewGateway(srv.URL, newTestStore(t))
	return NewChatManager(gw), backend
}

func TestSendMessageBuildsAlternatingSequence(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.NewChat(ctx, ""); err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	contents := []string{"what is osmosis", "explain diffusion", "compare both"}
	for _, c := range contents {
		if _, err := m.SendMessage(ctx, c); err != nil {
			t.Fatalf("SendMessage(%q): %v", c, err)
		}
	}

	msgs := m.Messages()
	if len(msgs) != 2*len(contents) {
		t.Fatalf("message count = %d, want %d", len(msgs), 2*len(contents))
	}
	for i, msg := range msgs {
		wantRole := domain.RoleUser
		if i%2 == 1 {
			wantRole = domain.RoleAssistant
		}
		if msg.Role != wantRole {
			t.Fatalf("message %d role = %q, want %q", i, msg.Role, wantRole)
		}
		if msg.MessageOrder != i+1 {
			t.Fatalf("message %d order = %d, want %d", i, msg.MessageOrder, i+1)
		}
		if msg.Status != StatusSent {
			t.Fatalf("message %d status = %q, want sent", i, msg.Status)
		}
	}
}

func TestFirstExchangeRewritesTitleOnce(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	if _, err := m.NewChat(ctx, ""); err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	long := strings.Repeat("photosynthesis ", 10)
	if _, err := m.SendMessage(ctx, long); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	want := domain.TruncateTitle(long)
	if current, ok := m.Current(); !ok || current.Title != want {
		t.Fatalf("title after first exchange = %q, want %q", current.Title, want)
	}
	if _, err := m.SendMessage(ctx, "second question"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	backend.mu.Lock()
	updates := append([]string{}, backend.titleUpdates...)
	backend.mu.Unlock()
	if len(updates) != 1 || updates[0] != want {
		t.Fatalf("title updates = %v, want exactly one %q", updates, want)
	}
}

func TestSendMessageFailureMarksOptimisticMessageFailed(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	if _, err := m.NewChat(ctx, ""); err != nil {
		t.Fatalf("NewChat: %v", err)
	}

	backend.mu.Lock()
	backend.failSend = true
	backend.mu.Unlock()
	if _, err := m.SendMessage(ctx, "doomed question"); err == nil {
		t.Fatal("SendMessage should fail")
	}

	msgs := m.Messages()
	if len(msgs) != 1 {
		t.Fatalf("message count = %d, want 1", len(msgs))
	}
	if msgs[0].Status != StatusFailed || msgs[0].Content != "doomed question" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}

	backend.mu.Lock()
	backend.failSend = false
	backend.mu.Unlock()
	if _, err := m.SendMessage(ctx, "retry question"); err != nil {
		t.Fatalf("SendMessage retry: %v", err)
	}
	msgs = m.Messages()
	if len(msgs) != 3 {
		t.Fatalf("message count after retry = %d, want 3", len(msgs))
	}
	if msgs[0].Status != StatusFailed {
		t.Fatal("failed message must stay in the sequence")
	}
}

func TestSendMessageWithoutActiveChat(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.SendMessage(context.Background(), "hello"); !errors.Is(err, ErrNoActiveChat) {
		t.Fatalf("err = %v, want ErrNoActiveChat", err)
	}
}

func TestRemoveChatClearsViewsOnlyForActiveChat(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	other := backend.addChat("Other chat")

	if _, err := m.NewChat(ctx, ""); err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	active, _ := m.Current()
	if _, err := m.SendMessage(ctx, "note this"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := m.RemoveChat(ctx, other.ID); err != nil {
		t.Fatalf("RemoveChat other: %v", err)
	}
	if len(m.Messages()) != 2 {
		t.Fatal("removing a non-active chat must leave the message view alone")
	}
	if current, ok := m.Current(); !ok || current.ID != active.ID {
		t.Fatal("removing a non-active chat must not change the selection")
	}

	if err := m.RemoveChat(ctx, active.ID); err != nil {
		t.Fatalf("RemoveChat active: %v", err)
	}
	if _, ok := m.Current(); ok {
		t.Fatal("removing the active chat must clear the selection")
	}
	if len(m.Messages()) != 0 || len(m.Files()) != 0 {
		t.Fatal("removing the active chat must clear messages and files")
	}
}

func TestLoadChatFailureLeavesStateUntouched(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	if _, err := m.NewChat(ctx, ""); err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	active, _ := m.Current()
	if _, err := m.SendMessage(ctx, "keep me"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := m.LoadChat(ctx, "missing-chat"); err == nil {
		t.Fatal("LoadChat of a missing chat should fail")
	}
	if current, ok := m.Current(); !ok || current.ID != active.ID {
		t.Fatal("failed load must not change the selection")
	}
	if len(m.Messages()) != 2 {
		t.Fatal("failed load must not touch the message view")
	}
}

func TestSendMessageDiscardsReplyForSupersededChat(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	other := backend.addChat("Other chat")

	if _, err := m.NewChat(ctx, ""); err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	active, _ := m.Current()

	backend.mu.Lock()
	backend.blockSendChat = active.ID
	backend.blockSend = make(chan struct{})
	backend.sendArrived = make(chan struct{})
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := m.SendMessage(ctx, "slow question")
		done <- err
	}()
	<-backend.sendArrived

	if err := m.LoadChat(ctx, other.ID); err != nil {
		t.Fatalf("LoadChat other: %v", err)
	}
	close(backend.blockSend)
	if err := <-done; err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	for _, msg := range m.Messages() {
		if msg.ChatID != other.ID {
			t.Fatalf("message view for chat %s contains %+v", other.ID, msg)
		}
	}
	if n := len(m.Messages()); n != 0 {
		t.Fatalf("message count = %d, want 0", n)
	}
	if current, ok := m.Current(); !ok || current.ID != other.ID {
		t.Fatalf("current = %+v, want the loaded chat", current)
	}

	backend.mu.Lock()
	updates := append([]string{}, backend.titleUpdates...)
	backend.mu.Unlock()
	if len(updates) != 0 {
		t.Fatalf("title updates = %v, want none for a superseded exchange", updates)
	}
}

func TestLoadChatDiscardsStaleResponse(t *testing.T) {
	m, backend := newTestManager(t)
	ctx := context.Background()
	slow := backend.addChat("Slow chat")
	fast := backend.addChat("Fast chat")

	backend.mu.Lock()
	backend.blockGetChat = slow.ID
	backend.blockGet = make(chan struct{})
	backend.getArrived = make(chan struct{})
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- m.LoadChat(ctx, slow.ID) }()
	<-backend.getArrived

	if err := m.LoadChat(ctx, fast.ID); err != nil {
		t.Fatalf("LoadChat fast: %v", err)
	}
	close(backend.blockGet)
	if err := <-done; err != nil {
		t.Fatalf("LoadChat slow: %v", err)
	}

	if current, ok := m.Current(); !ok || current.ID != fast.ID {
		t.Fatalf("current = %+v, want the most recently requested chat", current)
	}
}
