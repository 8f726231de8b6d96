// Package analysis is the HTTP client for the external analysis service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// Client calls the analysis service over HTTP. It implements core.Analyzer.
type Client struct {
	baseURL     string
	costPerItem float64
	httpClient  *http.Client
}

// New builds a Client. timeout bounds each request end to end.
func New(baseURL string, costPerItem float64, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		costPerItem: costPerItem,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	ArticleID       int64   `json:"article_id"`
	Title           string  `json:"title"`
	Body            string  `json:"body"`
	SourceTag       string  `json:"source_tag"`
	BudgetRemaining float64 `json:"budget_remaining"`
}

// Analyze submits one article. The per-item estimate is reserved against the
// tracker before the call and settled afterward, so concurrent workers cannot
// collectively overshoot the session budget mid-flight.
func (c *Client) Analyze(ctx context.Context, item core.ItemDetail, tracker *core.CostTracker) (*core.AnalysisResult, error) {
	if err := tracker.Reserve(c.costPerItem); err != nil {
		return nil, err
	}

	result, err := c.post(ctx, item, tracker.Remaining())
	if err != nil {
		tracker.Release(c.costPerItem)
		return nil, err
	}

	// A failed analysis still bills whatever the service charged.
	tracker.Commit(c.costPerItem, result.Cost)
	return result, nil
}

func (c *Client) post(ctx context.Context, item core.ItemDetail, budgetRemaining float64) (*core.AnalysisResult, error) {
	payload, err := json.Marshal(analyzeRequest{
		ArticleID:       item.ID,
		Title:           item.Title,
		Body:            item.Body,
		SourceTag:       item.SourceTag,
		BudgetRemaining: budgetRemaining,
	})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewInternalError(fmt.Sprintf("analysis service unreachable: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read analyze response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, core.NewInternalError(fmt.Sprintf("analysis service returned %d: %s",
			resp.StatusCode, string(body)))
	}

	var result core.AnalysisResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	return &result, nil
}
