package provider

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI talks to any OpenAI-compatible endpoint for both chat completion
// and embeddings.
type OpenAI struct {
	client         *openai.Client
	model          string
	embeddingModel string
	dimension      int
}

var (
	_ Embedder  = (*OpenAI)(nil)
	_ Completer = (*OpenAI)(nil)
)

// NewOpenAI creates a client. dimension, when positive, is requested from
// embedding models that support shortened vectors.
func NewOpenAI(apiKey, baseURL, model, embeddingModel string, dimension int) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("provider: API key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if embeddingModel == "" {
		embeddingModel = string(openai.SmallEmbedding3)
	}

	return &OpenAI{
		client:         openai.NewClientWithConfig(cfg),
		model:          model,
		embeddingModel: embeddingModel,
		dimension:      dimension,
	}, nil
}

// Complete sends prompt as a single user message.
func (p *OpenAI) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	var msgs []openai.ChatCompletionMessage
	if opts.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", Classify("complete", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &Error{Op: "complete", Retryable: true, Cause: ErrEmptyResponse}
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding of text.
func (p *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(p.embeddingModel),
		Dimensions: p.dimension,
	})
	if err != nil {
		return nil, Classify("embed", err)
	}
	if len(resp.Data) == 0 {
		return nil, &Error{Op: "embed", Cause: ErrEmptyResponse}
	}
	return resp.Data[0].Embedding, nil
}
