package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	apperrors "oliver-os/backend/pkg/errors"
	"oliver-os/backend/pkg/logger"
)

// LLMAdapter handles communication with the LLM via LiteLLM
type LLMAdapter struct {
	client         *openai.Client
	model          string
	embeddingModel string
	mu             sync.RWMutex // Protects model fields for concurrent access
	logger         *zap.Logger
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID, embeddingModelID string) *LLMAdapter {
	// For LiteLLM, we can use a dummy API key if not provided
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL + "/v1"

	return &LLMAdapter{
		client:         openai.NewClientWithConfig(config),
		model:          modelID,
		embeddingModel: embeddingModelID,
		logger:         logger.Named("adapter.llm"),
	}
}

// SetModel updates the chat model used by this adapter
func (a *LLMAdapter) SetModel(model string) {
	if model != "" {
		a.mu.Lock()
		a.model = model
		a.mu.Unlock()
		a.logger.Debug("LLM adapter model updated", zap.String("model", model))
	}
}

// GetModel returns the current chat model
func (a *LLMAdapter) GetModel() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// Generate sends a prompt to the LLM and returns the text response
func (a *LLMAdapter) Generate(ctx context.Context, systemPrompt, userMsg string) (string, error) {
	a.mu.RLock()
	currentModel := a.model
	a.mu.RUnlock()

	req := openai.ChatCompletionRequest{
		Model: currentModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userMsg,
			},
		},
		Temperature: 0.3,
	}

	// Retry logic with exponential backoff
	var resp openai.ChatCompletionResponse
	var err error
	maxRetries := 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			time.Sleep(backoff)
		}

		resp, err = a.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}

		errMsg := err.Error()
		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", currentModel),
		)

		// Check if it's a JSON parsing error (likely server returned non-JSON error)
		if strings.Contains(errMsg, "invalid character") || strings.Contains(errMsg, "json") {
			a.logger.Warn("LLM service returned non-JSON error response - this may be a transient server issue",
				zap.String("error", errMsg),
			)
		}
	}

	if err != nil {
		return "", apperrors.NewUpstreamFailed("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.NewUpstreamFailed("chat completion", fmt.Errorf("no choices in LLM response"))
	}

	content := resp.Choices[0].Message.Content
	a.logger.Debug("LLM response generated",
		zap.String("model", currentModel),
		zap.Int("length", len(content)),
	)
	return content, nil
}

// Embed returns the embedding vector for the given text
func (a *LLMAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	a.mu.RLock()
	embeddingModel := a.embeddingModel
	a.mu.RUnlock()

	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(embeddingModel),
		Input: []string{text},
	}

	var resp openai.EmbeddingResponse
	var err error
	maxRetries := 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			a.logger.Warn("Retrying embedding request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			time.Sleep(backoff)
		}

		resp, err = a.client.CreateEmbeddings(ctx, req)
		if err == nil {
			break
		}

		a.logger.Error("Embedding request failed",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.String("model", embeddingModel),
		)
	}

	if err != nil {
		return nil, apperrors.NewUpstreamFailed("embedding", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperrors.NewUpstreamFailed("embedding", fmt.Errorf("no data in embedding response"))
	}
	return resp.Data[0].Embedding, nil
}
