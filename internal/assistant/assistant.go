// Package assistant turns user questions, uploaded document text, and
// chat history into grounded AI answers for study sessions.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/johnestech/smart-study-assistant/pkg/ai"
	"github.com/johnestech/smart-study-assistant/pkg/domain"
)

const (
	// NonAcademicQuestionReply is returned without a model call when the
	// question fails the academic gate.
	NonAcademicQuestionReply = "I'm designed specifically for academic study and research purposes. Please ask questions related to academic content, research, or educational materials."

	// NonAcademicDocumentReply is returned when every attached document
	// classifies as non-academic.
	NonAcademicDocumentReply = "The information found in this document is not academic related, and this application is built for academic study and research."

	historyWindow    = 10
	docClassifyLimit = 2000
	summaryMaxLength = 500
)

const systemPrompt = `You are an AI assistant specialized in academic research and study. Your primary function is to help users understand and analyze academic content from their uploaded documents.

IMPORTANT GUIDELINES:
1. You ONLY answer questions related to academic research and study
2. If a question is not academic in nature, politely decline and explain your purpose
3. Base your answers on the provided document content when available
4. If asked about non-academic content in a document, respond: "The information found in this document is not academic related, and this application is built for academic study and research."
5. Provide clear, well-structured, and educational responses
6. Cite specific parts of documents when referencing them
7. Encourage further academic inquiry and learning

Always maintain a helpful, professional, and educational tone.`

const contentClassifierPrompt = `You are an academic content classifier. Your task is to determine if the given content is academic in nature.

Academic content includes research papers, educational materials, scientific data, academic presentations, thesis content, course materials, and scholarly publications.

Non-academic content includes personal documents, entertainment content, commercial materials, social media content, and general web content.

Respond with only "ACADEMIC" or "NON_ACADEMIC" based on the content classification.

Content to classify:
`

// Assistant answers study questions grounded on chat documents.
type Assistant struct {
	gen ai.ChatGenerator
	log *slog.Logger
}

// New creates an Assistant backed by the given generator.
func New(gen ai.ChatGenerator, log *slog.Logger) *Assistant {
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{gen: gen, log: log}
}

// Answer generates a reply to question using the processed document
// contents and recent history as context. Gated questions and
// non-academic document sets produce canned replies without an answer
// model call.
func (a *Assistant) Answer(ctx context.Context, question string, docContents []string, history []domain.Message) (string, error) {
	if !IsAcademicQuestion(question) {
		return NonAcademicQuestionReply, nil
	}

	var academicDocs []string
	nonAcademicSeen := false
	for _, doc := range docContents {
		if strings.TrimSpace(doc) == "" {
			continue
		}
		if a.isAcademicContent(ctx, doc) {
			academicDocs = append(academicDocs, doc)
		} else {
			nonAcademicSeen = true
		}
	}
	if nonAcademicSeen && len(academicDocs) == 0 {
		return NonAcademicDocumentReply, nil
	}

	prompt := systemPrompt
	if len(academicDocs) > 0 {
		var b strings.Builder
		b.WriteString(prompt)
		b.WriteString("\n\nDocument Content:")
		for i, doc := range academicDocs {
			fmt.Fprintf(&b, "\n--- Document %d ---\n%s", i+1, doc)
		}
		prompt = b.String()
	}

	turns := historyTurns(history)
	turns = append(turns, ai.Turn{Role: "user", Text: question})

	reply, err := a.gen.GenerateChat(ctx, prompt, turns)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(reply), nil
}

// GenerateChatTitle produces a short title for a chat from its first
// message. Falls back to truncating the message when the model fails.
func (a *Assistant) GenerateChatTitle(ctx context.Context, firstMessage string) string {
	prompt := fmt.Sprintf(`Generate a concise, descriptive title (maximum %d characters) for a chat conversation based on this first message:

%q

The title should be clear, specific, capture the main topic, suit an academic context, and not exceed %d characters.

Respond with only the title, no additional text.`, domain.TitleMaxLength, firstMessage, domain.TitleMaxLength)

	title, err := a.gen.GenerateText(ctx, "", prompt)
	if err != nil {
		a.log.Warn("chat title generation failed", "error", err)
		return domain.TruncateTitle(firstMessage)
	}
	title = strings.Trim(strings.TrimSpace(title), `"`)
	if title == "" {
		return domain.TruncateTitle(firstMessage)
	}
	return domain.TruncateTitle(title)
}

// SummarizeDocument produces a short summary of extracted document text.
func (a *Assistant) SummarizeDocument(ctx context.Context, content string) (string, error) {
	prompt := fmt.Sprintf(`Provide a concise summary (maximum %d characters) of this academic document:

%s

Focus on the main topic and objectives, key findings or concepts, and relevance for academic study.

Respond with only the summary.`, summaryMaxLength, content)

	summary, err := a.gen.GenerateText(ctx, "", prompt)
	if err != nil {
		return "", fmt.Errorf("summarize document: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if len(summary) > summaryMaxLength {
		summary = summary[:summaryMaxLength-3] + "..."
	}
	return summary, nil
}

// isAcademicContent asks the model to classify document text. Failures
// admit the document so extraction glitches never block answers.
func (a *Assistant) isAcademicContent(ctx context.Context, content string) bool {
	sample := content
	if len(sample) > docClassifyLimit {
		sample = sample[:docClassifyLimit]
	}
	reply, err := a.gen.GenerateText(ctx, "", contentClassifierPrompt+sample)
	if err != nil {
		a.log.Warn("document classification failed", "error", err)
		return true
	}
	return strings.ToUpper(strings.TrimSpace(reply)) != "NON_ACADEMIC"
}

func historyTurns(history []domain.Message) []ai.Turn {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	turns := make([]ai.Turn, 0, len(history))
	for _, msg := range history {
		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}
		turns = append(turns, ai.Turn{Role: role, Text: msg.Content})
	}
	return turns
}
