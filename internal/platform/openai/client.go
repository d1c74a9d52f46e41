package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dbontempi/arbot/internal/domain"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

const systemPrompt = `You are an analyst for binary prediction markets. Given a list of markets, identify logical relationships between pairs of them.

Relationship types:
- IMPLIES: the parent resolving YES forces the child to resolve YES.
- REQUIRES: the parent can only resolve YES if the child resolves YES.
- MUTUAL_EXCLUSION: at most one of the two markets can resolve YES.
- EQUIVALENCE: both markets settle on the same underlying event.

Respond with a JSON object of the form:
{"relationships": [{"parent_market_id": "...", "child_market_id": "...", "type": "IMPLIES", "confidence": "high", "reasoning": "..."}]}

Confidence must be one of: high, medium, low. Only report relationships you are sure about; omit speculative pairs. Return {"relationships": []} if none hold.`

// Client asks the OpenAI chat-completions API which logical relationships
// hold between markets. It satisfies the inference provider contract of the
// relationship detector; batching and timeouts are imposed by the caller
// through ctx.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// Config configures a Client.
type Config struct {
	BaseURL     string // defaults to the public OpenAI endpoint
	APIKey      string
	Model       string // defaults to gpt-4o-mini
	MaxTokens   int    // reply token cap, 0 leaves it to the provider
	Temperature float64
	Logger      *slog.Logger
}

// New creates an OpenAI client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: cfg.Logger.With(slog.String("component", "openai")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type inferredRelationship struct {
	ParentMarketID string `json:"parent_market_id"`
	ChildMarketID  string `json:"child_market_id"`
	Type           string `json:"type"`
	Confidence     string `json:"confidence"`
	Reasoning      string `json:"reasoning"`
}

// InferRelationships sends the market list in a single chat completion and
// parses the structured reply. The result carries only what the model said;
// the detector validates market IDs, types, and confidences against the
// batch.
func (c *Client) InferRelationships(ctx context.Context, markets []domain.Market) ([]domain.Relationship, error) {
	if len(markets) < 2 {
		return nil, nil
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(markets)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	reqBody.ResponseFormat.Type = "json_object"

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request: %w: %w", domain.ErrInferenceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	var parsed struct {
		Relationships []inferredRelationship `json:"relationships"`
	}
	content := chat.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("openai: parse model output: %w", err)
	}

	c.logger.DebugContext(ctx, "inference reply",
		slog.Int("markets", len(markets)),
		slog.Int("relationships", len(parsed.Relationships)),
		slog.Int("prompt_tokens", chat.Usage.PromptTokens),
		slog.Int("completion_tokens", chat.Usage.CompletionTokens),
	)

	rels := make([]domain.Relationship, 0, len(parsed.Relationships))
	for _, r := range parsed.Relationships {
		rels = append(rels, domain.Relationship{
			Type:           domain.RelationType(strings.ToUpper(strings.TrimSpace(r.Type))),
			ParentMarketID: strings.TrimSpace(r.ParentMarketID),
			ChildMarketID:  strings.TrimSpace(r.ChildMarketID),
			Confidence:     domain.Confidence(strings.ToLower(strings.TrimSpace(r.Confidence))),
			Reasoning:      r.Reasoning,
			Source:         domain.SourceInference,
		})
	}

	return rels, nil
}

func buildUserPrompt(markets []domain.Market) string {
	var b strings.Builder
	b.WriteString("Markets:\n")
	for _, m := range markets {
		fmt.Fprintf(&b, "- %s: %s\n", m.ID, m.Title)
	}
	return b.String()
}

// checkStatus maps OpenAI error responses to domain errors. Rate limits and
// server errors are the provider being unavailable; the detector falls back
// to pattern rules on those.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	message := string(body)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("openai: %w: %s", domain.ErrUnauthorized, message)
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return fmt.Errorf("openai: %w: HTTP %d: %s", domain.ErrInferenceUnavailable, statusCode, message)
	default:
		return fmt.Errorf("openai: HTTP %d: %s", statusCode, message)
	}
}
