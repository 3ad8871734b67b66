package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
	"github.com/kirillkom/lostfound-matcher/internal/infrastructure/resilience"
)

// pointNamespace derives stable point ids from found item ids, so re-indexing
// an item overwrites its previous point.
var pointNamespace = uuid.MustParse("6f1c58a4-32b4-4e0b-9a57-1b8f4c4d7a10")

type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

type Option func(*Client)

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

func New(baseURL, collection string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PointID is the qdrant point id of a found item.
func PointID(foundID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(foundID)).String()
}

func (c *Client) Upsert(ctx context.Context, items []domain.FoundItem, vectors [][]float32) error {
	if len(items) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(items) != len(vectors) {
		return fmt.Errorf("items/vectors mismatch: %d != %d", len(items), len(vectors))
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(items))
	for i, item := range items {
		points = append(points, point{
			ID:     PointID(item.ID),
			Vector: vectors[i],
			Payload: map[string]any{
				"found_id":    item.ID,
				"description": item.Description,
				"category":    item.Category,
				"category_lc": strings.ToLower(strings.TrimSpace(item.Category)),
			},
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.call(ctx, "upsert", http.MethodPut, url, map[string]any{"points": points}, nil)
}

// Search returns the nearest found items with their cosine similarity. The
// category filter is case-insensitive.
func (c *Client) Search(
	ctx context.Context,
	queryVector []float32,
	limit int,
	filter domain.SearchFilter,
) ([]domain.VectorHit, error) {
	if len(queryVector) == 0 || limit <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": true,
	}
	if category := strings.ToLower(strings.TrimSpace(filter.Category)); category != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": "category_lc",
					"match": map[string]any{
						"value": category,
					},
				},
			},
		}
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.call(ctx, "search", http.MethodPost, url, reqBody, &searchResp); err != nil {
		return nil, err
	}

	out := make([]domain.VectorHit, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		id := getStringPayload(r.Payload, "found_id")
		if id == "" {
			continue
		}
		out = append(out, domain.VectorHit{
			ID:          id,
			Description: getStringPayload(r.Payload, "description"),
			Category:    getStringPayload(r.Payload, "category"),
			Cosine:      r.Score,
		})
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, operation, method, url string, payload, out any) error {
	do := func(ctx context.Context) error {
		return c.doJSON(ctx, operation, method, url, payload, out)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "qdrant."+operation, do, classify)
	} else {
		err = do(ctx)
	}
	return markTemporary("qdrant."+operation, err)
}

func (c *Client) doJSON(ctx context.Context, operation, method, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return newAPIError(operation, resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.doJSON(ctx, "ensure collection", http.MethodPut, url, reqBody, nil)

	// 409: the collection already exists.
	if err != nil && !isConflict(err) {
		return err
	}
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
