package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/johnestech/smart-study-assistant/pkg/ai"
	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

type fakeGenerator struct {
	textFn func(systemPrompt, userPrompt string) (string, error)
	chatFn func(systemPrompt string, turns []ai.Turn) (string, error)
}

func (f *fakeGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if f.textFn == nil {
		return "ok", nil
	}
	return f.textFn(systemPrompt, userPrompt)
}

func (f *fakeGenerator) GenerateChat(ctx context.Context, systemPrompt string, turns []ai.Turn) (string, error) {
	if f.chatFn == nil {
		return "ok", nil
	}
	return f.chatFn(systemPrompt, turns)
}

func TestIsAcademicQuestion(t *testing.T) {
	cases := []struct {
		question string
		want     bool
	}{
		{"What is the methodology of this study?", true},
		{"Explain the concept of entropy", true},
		{"Compare and contrast these two approaches", true},
		{"What's a good movie to watch tonight?", false},
		{"Give me a recipe for pasta", false},
		{"Tell me about celebrity gossip", false},
		{"Hello there", true},
	}
	for _, tc := range cases {
		if got := IsAcademicQuestion(tc.question); got != tc.want {
			t.Errorf("IsAcademicQuestion(%q) = %v, want %v", tc.question, got, tc.want)
		}
	}
}

func TestAnswerDeclinesNonAcademicQuestion(t *testing.T) {
	called := false
	gen := &fakeGenerator{
		chatFn: func(string, []ai.Turn) (string, error) {
			called = true
			return "should not happen", nil
		},
	}
	a := New(gen, nil)
	reply, err := a.Answer(context.Background(), "recommend me a movie", nil, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply != NonAcademicQuestionReply {
		t.Errorf("reply = %q, want canned decline", reply)
	}
	if called {
		t.Error("model should not be called for gated questions")
	}
}

func TestAnswerDeclinesWhenAllDocumentsNonAcademic(t *testing.T) {
	gen := &fakeGenerator{
		textFn: func(_, prompt string) (string, error) {
			return "NON_ACADEMIC", nil
		},
	}
	a := New(gen, nil)
	reply, err := a.Answer(context.Background(), "explain the main argument", []string{"my vacation photos"}, nil)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply != NonAcademicDocumentReply {
		t.Errorf("reply = %q, want document decline", reply)
	}
}

func TestAnswerIncludesDocumentsAndHistory(t *testing.T) {
	var gotSystem string
	var gotTurns []ai.Turn
	gen := &fakeGenerator{
		textFn: func(_, _ string) (string, error) { return "ACADEMIC", nil },
		chatFn: func(systemPrompt string, turns []ai.Turn) (string, error) {
			gotSystem = systemPrompt
			gotTurns = turns
			return "grounded answer", nil
		},
	}
	a := New(gen, nil)

	history := make([]domain.Message, 0, 14)
	for i := 0; i < 14; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		history = append(history, domain.Message{Content: "msg", Role: role, MessageOrder: i + 1})
	}

	reply, err := a.Answer(context.Background(), "analyze the findings", []string{"study of enzyme kinetics"}, history)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if reply != "grounded answer" {
		t.Errorf("reply = %q", reply)
	}
	if !strings.Contains(gotSystem, "--- Document 1 ---") {
		t.Error("document content missing from system prompt")
	}
	if !strings.Contains(gotSystem, "enzyme kinetics") {
		t.Error("document text missing from system prompt")
	}
	// 10 history turns plus the question.
	if len(gotTurns) != 11 {
		t.Fatalf("turns = %d, want 11", len(gotTurns))
	}
	last := gotTurns[len(gotTurns)-1]
	if last.Role != "user" || last.Text != "analyze the findings" {
		t.Errorf("last turn = %+v, want current question", last)
	}
}

func TestAnswerAdmitsDocumentsWhenClassifierFails(t *testing.T) {
	gen := &fakeGenerator{
		textFn: func(_, _ string) (string, error) { return "", errors.New("boom") },
		chatFn: func(systemPrompt string, _ []ai.Turn) (string, error) {
			if !strings.Contains(systemPrompt, "Document Content") {
				t.Error("document should be admitted on classifier failure")
			}
			return "answer", nil
		},
	}
	a := New(gen, nil)
	if _, err := a.Answer(context.Background(), "discuss the theory", []string{"some text"}, nil); err != nil {
		t.Fatalf("Answer: %v", err)
	}
}

func TestGenerateChatTitle(t *testing.T) {
	gen := &fakeGenerator{
		textFn: func(_, _ string) (string, error) {
			return `"Enzyme Kinetics Overview"`, nil
		},
	}
	a := New(gen, nil)
	if got := a.GenerateChatTitle(context.Background(), "tell me about enzyme kinetics"); got != "Enzyme Kinetics Overview" {
		t.Errorf("title = %q", got)
	}
}

func TestGenerateChatTitleFallsBackOnError(t *testing.T) {
	gen := &fakeGenerator{
		textFn: func(_, _ string) (string, error) { return "", errors.New("quota") },
	}
	a := New(gen, nil)
	long := strings.Repeat("a", 80)
	got := a.GenerateChatTitle(context.Background(), long)
	want := domain.TruncateTitle(long)
	if got != want {
		t.Errorf("title = %q, want %q", got, want)
	}
}
