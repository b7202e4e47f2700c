package store

import (
	"testing"
	"time"

	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

func TestMemoryStoreUserLookups(t *testing.T) {
	s := NewMemoryStore()
	user := domain.User{ID: "u1", Username: "ada", Email: "ada@example.com", IsActive: true}
	if err := s.SaveUser(user); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	if taken, _ := s.HasUsername("ada"); !taken {
		t.Fatal("HasUsername should report taken")
	}
	if taken, _ := s.HasEmail("ada@example.com"); !taken {
		t.Fatal("HasEmail should report taken")
	}
	if _, ok, _ := s.GetUserByUsername("ada"); !ok {
		t.Fatal("GetUserByUsername miss")
	}
	if _, ok, _ := s.GetUserByEmail("ada@example.com"); !ok {
		t.Fatal("GetUserByEmail miss")
	}

	// renaming releases the old keys
	user.Username = "ada2"
	user.Email = "ada2@example.com"
	if err := s.SaveUser(user); err != nil {
		t.Fatalf("SaveUser update: %v", err)
	}
	if taken, _ := s.HasUsername("ada"); taken {
		t.Fatal("old username should be free after update")
	}
	if taken, _ := s.HasEmail("ada@example.com"); taken {
		t.Fatal("old email should be free after update")
	}
}

func TestMemoryStoreDeleteUserCascades(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveUser(domain.User{ID: "u1", Username: "ada", Email: "ada@example.com"})
	_ = s.SaveChat(domain.Chat{ID: "c1", UserID: "u1", IsActive: true})
	_ = s.AppendMessage(domain.Message{ID: "m1", ChatID: "c1", MessageOrder: 1})
	_ = s.SaveFile(domain.File{ID: "f1", ChatID: "c1", UserID: "u1"})

	if err := s.DeleteUser("u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, ok, _ := s.GetChat("c1"); ok {
		t.Fatal("chat should be gone")
	}
	if msgs, _ := s.ListMessages("c1"); len(msgs) != 0 {
		t.Fatal("messages should be gone")
	}
	if _, ok, _ := s.GetFile("f1"); ok {
		t.Fatal("file should be gone")
	}
}

func TestMemoryStoreChatOrdering(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	_ = s.SaveChat(domain.Chat{ID: "c1", UserID: "u1", IsActive: true, UpdatedAt: base})
	_ = s.SaveChat(domain.Chat{ID: "c2", UserID: "u1", IsActive: true, UpdatedAt: base.Add(time.Minute)})
	_ = s.SaveChat(domain.Chat{ID: "c3", UserID: "u1", IsActive: false, UpdatedAt: base.Add(2 * time.Minute)})
	_ = s.SaveChat(domain.Chat{ID: "c4", UserID: "u2", IsActive: true, UpdatedAt: base.Add(3 * time.Minute)})

	chats, err := s.ListChatsByOwner("u1")
	if err != nil {
		t.Fatalf("ListChatsByOwner: %v", err)
	}
	if len(chats) != 2 || chats[0].ID != "c2" || chats[1].ID != "c1" {
		t.Fatalf("chats = %+v, want c2 then c1", chats)
	}
}

func TestMemoryStoreMessages(t *testing.T) {
	s := NewMemoryStore()
	if last, _ := s.LastMessageOrder("c1"); last != 0 {
		t.Fatalf("empty chat last order = %d, want 0", last)
	}
	_ = s.AppendMessage(domain.Message{ID: "m2", ChatID: "c1", MessageOrder: 2})
	_ = s.AppendMessage(domain.Message{ID: "m1", ChatID: "c1", MessageOrder: 1})

	msgs, err := s.ListMessages("c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].MessageOrder != 1 || msgs[1].MessageOrder != 2 {
		t.Fatalf("messages out of order: %+v", msgs)
	}
	if last, _ := s.LastMessageOrder("c1"); last != 2 {
		t.Fatalf("last order = %d, want 2", last)
	}
}

func TestMemoryStoreRejectsDuplicateMessageOrder(t *testing.T) {
	s := NewMemoryStore()
	_ = s.AppendMessage(domain.Message{ID: "m1", ChatID: "c1", MessageOrder: 1})

	if err := s.AppendMessage(domain.Message{ID: "m2", ChatID: "c1", MessageOrder: 1}); err == nil {
		t.Fatal("duplicate order in one chat must be rejected")
	}
	if err := s.AppendMessage(domain.Message{ID: "m3", ChatID: "c2", MessageOrder: 1}); err != nil {
		t.Fatalf("same order in another chat: %v", err)
	}
	if msgs, _ := s.ListMessages("c1"); len(msgs) != 1 {
		t.Fatalf("chat c1 has %d messages, want 1", len(msgs))
	}
}

func TestMemoryStoreDeleteChatCascades(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveChat(domain.Chat{ID: "c1", UserID: "u1", IsActive: true})
	_ = s.AppendMessage(domain.Message{ID: "m1", ChatID: "c1", MessageOrder: 1})
	_ = s.SaveFile(domain.File{ID: "f1", ChatID: "c1", UserID: "u1"})

	if err := s.DeleteChat("c1"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if msgs, _ := s.ListMessages("c1"); len(msgs) != 0 {
		t.Fatal("messages should be gone")
	}
	if files, _ := s.ListFilesByChat("c1"); len(files) != 0 {
		t.Fatal("file records should be gone")
	}
}

func TestMemoryStoreSetFileProcessed(t *testing.T) {
	s := NewMemoryStore()
	_ = s.SaveFile(domain.File{ID: "f1", ChatID: "c1", UserID: "u1", Filename: "notes.txt"})

	if err := s.SetFileProcessed("f1", "extracted text"); err != nil {
		t.Fatalf("SetFileProcessed: %v", err)
	}
	f, ok, _ := s.GetFile("f1")
	if !ok || !f.IsProcessed || f.ProcessedContent != "extracted text" {
		t.Fatalf("file = %+v", f)
	}

	// unknown ids are ignored
	if err := s.SetFileProcessed("missing", "x"); err != nil {
		t.Fatalf("SetFileProcessed missing: %v", err)
	}
}
