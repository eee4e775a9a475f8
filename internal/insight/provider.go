// Package insight is the advisory provider boundary. Everything here is best
// effort: callers must treat any error as "use the deterministic fallback",
// and response parsing brittleness stays inside this package.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/marketpulse/backend/internal/storage/models"
	"github.com/marketpulse/backend/pkg/circuitbreaker"
	"github.com/marketpulse/backend/pkg/logger"
	"github.com/marketpulse/backend/pkg/retry"
)

// Provider adjusts alert priorities and generates insight strings. Any error
// means the caller applies its documented fallback.
type Provider interface {
	AdjustPriority(ctx context.Context, category models.AlertCategory, basePriority models.Priority, alertCtx models.AlertContext, metadata map[string]string) (models.Priority, float64, error)
	GenerateInsights(ctx context.Context, category models.AlertCategory, title, message string, alertCtx models.AlertContext) ([]string, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens, timeoutSec int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.NewCircuitBreaker("insight", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    2,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	timeout := time.Duration(timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	logger.Info("Insight provider initialized",
		zap.String("model", model),
		zap.Duration("timeout", timeout),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		timeout:        timeout,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: userPrompt,
		},
	}

	var content string

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: c.temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			content = resp.Choices[0].Message.Content
			return nil
		})
	})

	if err != nil {
		return "", err
	}

	return content, nil
}

func (c *Client) AdjustPriority(ctx context.Context, category models.AlertCategory, basePriority models.Priority, alertCtx models.AlertContext, metadata map[string]string) (models.Priority, float64, error) {
	systemPrompt := `You are a competitive-intelligence triage assistant. Given an alert's category and context, decide whether its priority should be raised or lowered.

Valid priorities: low, medium, high, critical.

Return ONLY JSON: {"priority": "high", "confidence": 0.8, "reason": "short explanation"}`

	metadataJSON, _ := json.Marshal(metadata)
	userPrompt := fmt.Sprintf(`Category: %s
Base priority: %s
Entity: %s (%s)
Triggering rule: %s
Severity: %s
Metadata: %s

Return JSON only.`, category, basePriority, alertCtx.EntityID, alertCtx.EntityKind, alertCtx.RuleName, alertCtx.Severity, metadataJSON)

	content, err := c.complete(ctx, systemPrompt, userPrompt, 200)
	if err != nil {
		return "", 0, err
	}

	priority, confidence, err := parsePriorityAdjustment(content)
	if err != nil {
		return "", 0, err
	}

	logger.Debug("Priority adjustment received",
		zap.String("base", string(basePriority)),
		zap.String("adjusted", string(priority)),
		zap.Float64("confidence", confidence),
	)

	return priority, confidence, nil
}

func (c *Client) GenerateInsights(ctx context.Context, category models.AlertCategory, title, message string, alertCtx models.AlertContext) ([]string, error) {
	systemPrompt := `You are a competitive-intelligence analyst. Generate exactly 3 short, actionable insight strings for the alert described. Each insight is one sentence.

Return ONLY a JSON array of strings: ["...", "...", "..."]`

	userPrompt := fmt.Sprintf(`Category: %s
Title: %s
Message: %s
Entity: %s (%s)

Return JSON only.`, category, title, message, alertCtx.EntityID, alertCtx.EntityKind)

	content, err := c.complete(ctx, systemPrompt, userPrompt, 400)
	if err != nil {
		return nil, err
	}

	insights, err := parseInsightList(content)
	if err != nil {
		return nil, err
	}

	return insights, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response was empty")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

type priorityAdjustment struct {
	Priority   string  `json:"priority"`
	Confidence float64 `json:"confidence"`
}

// parsePriorityAdjustment extracts the JSON object from a freeform provider
// response. A malformed or out-of-range response is an error, which the
// caller converts into the deterministic fallback.
func parsePriorityAdjustment(content string) (models.Priority, float64, error) {
	raw := extractJSON(content, '{', '}')
	if raw == "" {
		return "", 0, fmt.Errorf("no JSON object in provider response")
	}

	var adj priorityAdjustment
	if err := json.Unmarshal([]byte(raw), &adj); err != nil {
		return "", 0, fmt.Errorf("failed to parse priority adjustment: %w", err)
	}

	priority := models.Priority(strings.ToLower(adj.Priority))
	switch priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical:
	default:
		return "", 0, fmt.Errorf("invalid priority %q in provider response", adj.Priority)
	}

	if adj.Confidence < 0 || adj.Confidence > 1 {
		return "", 0, fmt.Errorf("confidence %f out of range", adj.Confidence)
	}

	return priority, adj.Confidence, nil
}

func parseInsightList(content string) ([]string, error) {
	raw := extractJSON(content, '[', ']')
	if raw == "" {
		return nil, fmt.Errorf("no JSON array in provider response")
	}

	var insights []string
	if err := json.Unmarshal([]byte(raw), &insights); err != nil {
		return nil, fmt.Errorf("failed to parse insight list: %w", err)
	}
	if len(insights) == 0 {
		return nil, fmt.Errorf("provider returned no insights")
	}

	return insights, nil
}

func extractJSON(content string, opener, closer byte) string {
	start := strings.IndexByte(content, opener)
	end := strings.LastIndexByte(content, closer)
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
