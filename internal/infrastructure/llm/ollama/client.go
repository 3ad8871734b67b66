package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

// WithResilience routes every call through the executor (retry + breaker).
func WithResilience(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func New(baseURL, genModel, embedModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

// Embed vectorizes found-item descriptions in one batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, "embed", texts)
}

// EmbedQuery vectorizes one search text. It runs as its own operation so the
// request path gets its own retry budget and breaker.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, "embed_query", []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) embed(ctx context.Context, operation string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.call(ctx, operation, "/api/embed", request, &response); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%s: expected %d vectors, got %d", operation, len(texts), len(response.Embeddings))
	}
	return response.Embeddings, nil
}

// generateJSON runs a deterministic JSON-mode completion.
func (c *Client) generateJSON(ctx context.Context, operation, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":   c.genModel,
		"prompt":  prompt,
		"stream":  false,
		"format":  "json",
		"options": map[string]any{"temperature": 0},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := c.call(ctx, operation, "/api/generate", reqBody, &response); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

// call runs post through the executor as "ollama.<operation>" when one is
// configured.
func (c *Client) call(ctx context.Context, operation, path string, payload, out any) error {
	name := "ollama." + operation
	if c.executor == nil {
		return markTemporary(name, c.post(ctx, operation, path, payload, out))
	}
	err := c.executor.Execute(ctx, name, func(callCtx context.Context) error {
		return c.post(callCtx, operation, path, payload, out)
	}, classify)
	return markTemporary(name, err)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
