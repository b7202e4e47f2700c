package ai

import "context"

// Turn is a single chat exchange entry passed to the model as history.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChatGenerator generates a reply to a multi-turn conversation. The last
// turn must carry the "user" role.
type ChatGenerator interface {
	TextGenerator
	GenerateChat(ctx context.Context, systemPrompt string, turns []Turn) (string, error)
}
