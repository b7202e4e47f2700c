package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) GeminiOption {
	return func(c *GeminiClient) {
		c.httpClient = hc
	}
}

// NewGeminiClient constructs a client with the provided API key.
func NewGeminiClient(apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	c := &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateText returns the generated response for a single prompt.
func (c *GeminiClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	return c.GenerateChat(ctx, model, systemPrompt, []Turn{{Role: "user", Text: userPrompt}})
}

// GenerateChat returns the generated reply to a conversation.
func (c *GeminiClient) GenerateChat(ctx context.Context, model, systemPrompt string, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("at least one turn required")
	}
	reqBody := generateRequest{}
	for _, t := range turns {
		role := t.Role
		if role != "model" {
			role = "user"
		}
		reqBody.Contents = append(reqBody.Contents, content{
			Role:  role,
			Parts: []part{{Text: t.Text}},
		})
	}
	if strings.TrimSpace(systemPrompt) != "" {
		reqBody.SystemInstruction = &content{
			Parts: []part{{Text: systemPrompt}},
		}
	}
	var resp generateResponse
	if err := c.doJSON(ctx, fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, normalizeModel(model), c.apiKey), reqBody, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from gemini")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

func (c *GeminiClient) doJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return fmt.Errorf("gemini api error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("gemini api error: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
