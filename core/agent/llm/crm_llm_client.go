package llm

import (
	"context"
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = string(openai.AdaEmbeddingV2)
)

// Client wraps the OpenAI API for completions and embeddings.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	maxTokens      int
	temperature    float32
	timeout        time.Duration
	maxRetries     int
}

type ClientConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
}

func NewClient(apiKey string) *Client {
	return NewClientWithConfig(ClientConfig{APIKey: apiKey})
}

func NewClientWithConfig(cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	return &Client{
		client:         openai.NewClient(cfg.APIKey),
		model:          model,
		embeddingModel: openai.EmbeddingModel(embeddingModel),
		maxTokens:      maxTokens,
		temperature:    float32(temperature),
		timeout:        timeout,
		maxRetries:     maxRetries,
	}
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *Client) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.CompleteWithModel(ctx, "", systemPrompt, userPrompt)
}

// CompleteWithModel runs a completion on a specific model; an empty model
// uses the client default. Prompt templates carry a recommended model which
// arrives here.
func (c *Client) CompleteWithModel(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}

	return resp.Choices[0].Message.Content, nil
}

// CompleteJSON returns a JSON response from the LLM. Read-only analysis
// calls go through bounded retry; the last error is returned when all
// attempts fail.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var result string
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		messages := make([]openai.ChatCompletionMessage, 0, 2)
		if systemPrompt != "" {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: userPrompt,
		})

		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			result = "{}"
			return nil
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	return result, err
}

func (c *Client) Embedding(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbeddingBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	return vectors[0], nil
}

// EmbeddingBatch embeds texts preserving input order. The response carries
// an index per vector; results are placed by that index, not response order.
func (c *Client) EmbeddingBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var result [][]float32
	err := c.withRetry(ctx, func(callCtx context.Context) error {
		resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
			Model: c.embeddingModel,
			Input: texts,
		})
		if err != nil {
			return err
		}
		result = make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || data.Index >= len(result) {
				continue
			}
			result[data.Index] = data.Embedding
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withRetry runs fn with a per-attempt timeout and exponential backoff
// with jitter between attempts.
func (c *Client) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt)*time.Second +
				time.Duration(rand.Intn(500))*time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func truncateBody(body string, maxLen int) string {
	runes := []rune(body)
	if len(runes) <= maxLen {
		return body
	}
	return string(runes[:maxLen]) + "..."
}
