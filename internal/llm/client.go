// Package llm wraps the chat-completion collaborator used for free-form
// turns that the keyword router cannot resolve.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"bankassist/internal/docscan"
	"bankassist/internal/metrics"
)

// historyWindow caps how many prior turns are replayed to the model.
const historyWindow = 10

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("chat completion not configured")

// Turn is one prior message in a conversation, oldest first.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// Config holds chat client settings.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// Client is a thin wrapper over the Anthropic messages API.
type Client struct {
	api       anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	enabled   bool
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New builds a client. With an empty API key the client is created but
// disabled; every call returns ErrNotConfigured.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		api:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		enabled:   cfg.APIKey != "",
		logger:    logger.With("component", "llm"),
		metrics:   m,
	}
}

// Available reports whether the collaborator can be called at all.
func (c *Client) Available() bool {
	return c.enabled
}

// Respond answers a free-form user message, optionally grounded in document
// extraction context and the recent conversation history.
func (c *Client) Respond(ctx context.Context, userMessage string, doc *docscan.Extraction, history []Turn) (string, error) {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	msgs := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, t := range history {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
	}
	msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)))

	return c.complete(ctx, systemPrompt(doc), msgs, c.maxTokens)
}

// Summarize produces a short paragraph describing an analyzed document.
func (c *Client) Summarize(ctx context.Context, doc *docscan.Extraction) (string, error) {
	msgs := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(
			"Summarize the key points of this banking document in a short paragraph.")),
	}
	return c.complete(ctx, systemPrompt(doc), msgs, 300)
}

func (c *Client) complete(ctx context.Context, system string, msgs []anthropic.MessageParam, maxTokens int64) (string, error) {
	if !c.enabled {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  msgs,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.ChatRequests.WithLabelValues(status).Inc()
		c.metrics.ChatLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.Warn("chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	c.logger.Debug("chat completion",
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return text.String(), nil
}

func systemPrompt(doc *docscan.Extraction) string {
	var b strings.Builder
	b.WriteString("You are a professional banking assistant. Be precise, clear, and privacy-conscious.\n")
	if doc != nil {
		kvs := doc.KeyValues
		if len(kvs) > 5 {
			kvs = kvs[:5]
		}
		samples := make([]string, 0, len(kvs))
		for _, kv := range kvs {
			samples = append(samples, kv.Key+": "+kv.Value)
		}
		b.WriteString("Document context available.\n")
		fmt.Fprintf(&b, "- Accounts: %v\n", doc.BankingInfo.AccountNumbers)
		fmt.Fprintf(&b, "- Amounts: %v\n", doc.BankingInfo.Amounts)
		fmt.Fprintf(&b, "- Dates: %v\n", doc.BankingInfo.Dates)
		fmt.Fprintf(&b, "- Names: %v\n", doc.BankingInfo.Names)
		fmt.Fprintf(&b, "- Key-Values (sample): %s\n", strings.Join(samples, "; "))
	}
	return b.String()
}
