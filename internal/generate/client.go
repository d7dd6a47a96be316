package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// HistorySource supplies recently posted text so the model can keep a
// consistent voice and avoid repeating itself.
type HistorySource interface {
	RecentPosts(ctx context.Context, limit int) ([]string, error)
}

// Config tunes the model service client.
type Config struct {
	ServiceURL  string
	APIKey      string
	Model       string
	StylePrompt string
	HistorySize int
	MaxLength   int
	Timeout     time.Duration
}

// Client generates post text through an OpenAI-compatible chat completions
// endpoint. The template generator is used as a fallback when the service
// call fails.
type Client struct {
	cfg      Config
	http     *http.Client
	history  HistorySource
	fallback *TemplateGenerator
	logger   *slog.Logger
}

var _ domain.Generator = (*Client)(nil)

// NewClient creates a model service client. history may be nil.
func NewClient(cfg Config, history HistorySource, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: timeout},
		history:  history,
		fallback: NewTemplateGenerator(cfg.MaxLength),
		logger:   logger.With(slog.String("component", "generate")),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate asks the model service for post text. Service failures fall back
// to the template so an action is never blocked on the model being down.
func (c *Client) Generate(ctx context.Context, action domain.Action) (string, error) {
	text, err := c.complete(ctx, action)
	if err != nil {
		c.logger.Warn("model generation failed, using template",
			slog.String("action_id", action.ID),
			slog.String("error", err.Error()),
		)
		return c.fallback.Generate(ctx, action)
	}
	return truncate(text, maxOrDefault(c.cfg.MaxLength)), nil
}

func (c *Client) complete(ctx context.Context, action domain.Action) (string, error) {
	draft, _ := c.fallback.Generate(ctx, action)

	system := c.cfg.StylePrompt
	if system == "" {
		system = "You rewrite prediction-market trade alerts into short, punchy posts. Keep every number and link exactly as given."
	}
	if c.history != nil && c.cfg.HistorySize > 0 {
		posts, err := c.history.RecentPosts(ctx, c.cfg.HistorySize)
		if err != nil {
			c.logger.Debug("post history unavailable", slog.String("error", err.Error()))
		} else if len(posts) > 0 {
			var b bytes.Buffer
			b.WriteString(system)
			b.WriteString("\n\nRecent posts, do not repeat their phrasing:")
			for _, p := range posts {
				b.WriteString("\n---\n")
				b.WriteString(p)
			}
			system = b.String()
		}
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: draft},
		},
		MaxTokens: 200,
	})
	if err != nil {
		return "", fmt.Errorf("generate: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServiceURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("generate: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: service returned %d: %s", resp.StatusCode, string(data))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("generate: decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("generate: service error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("generate: empty completion")
	}
	return out.Choices[0].Message.Content, nil
}

func maxOrDefault(max int) int {
	if max <= 0 {
		return defaultMaxLength
	}
	return max
}

// ActionHistory adapts the action store into a HistorySource using the
// final text of recently completed actions.
type ActionHistory struct {
	store domain.ActionStore
}

// NewActionHistory wraps an action store as post history.
func NewActionHistory(store domain.ActionStore) *ActionHistory {
	return &ActionHistory{store: store}
}

// RecentPosts returns the final text of the most recent completed actions.
func (h *ActionHistory) RecentPosts(ctx context.Context, limit int) ([]string, error) {
	actions, err := h.store.ListByStatus(ctx, domain.ActionCompleted, limit)
	if err != nil {
		return nil, err
	}
	posts := make([]string, 0, len(actions))
	for _, a := range actions {
		if a.FinalText != "" {
			posts = append(posts, a.FinalText)
		}
	}
	return posts, nil
}
