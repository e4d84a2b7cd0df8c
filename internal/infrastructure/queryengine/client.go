package queryengine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/statisfy-us/prismiq-sub001/internal/domain/query"
	"github.com/statisfy-us/prismiq-sub001/pkg/config"
)

var ErrEngineUnavailable = errors.New("query engine unavailable")

// Client talks to the external query-execution service over HTTP. Request
// timeouts live here; the orchestrator above it does no cancellation of
// its own.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.QueryEngineConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type executeRequest struct {
	Query       query.QueryDefinition `json:"query"`
	BypassCache bool                  `json:"bypass_cache,omitempty"`
}

type engineError struct {
	Error string `json:"error"`
}

// ExecuteQuery runs a compiled query, optionally forcing the engine to
// skip its server-side result cache.
func (c *Client) ExecuteQuery(ctx context.Context, q query.QueryDefinition, bypassCache bool) (*query.QueryResult, error) {
	body, err := json.Marshal(executeRequest{Query: q, BypassCache: bypassCache})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if bypassCache {
		req.Header.Set("X-Cache-Bypass", "1")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var result query.QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode query result: %w", err)
	}

	if c.logger != nil {
		c.logger.Debug("Query executed",
			zap.Int("rows", result.RowCount),
			zap.Bool("bypass_cache", bypassCache),
			zap.Duration("latency", time.Since(start)))
	}
	return &result, nil
}

// GetColumnSample fetches up to limit distinct values of a column, used to
// populate dynamic filter options.
func (c *Client) GetColumnSample(ctx context.Context, table, column string, limit int) ([]interface{}, error) {
	u := fmt.Sprintf("%s/api/v1/tables/%s/columns/%s/sample?limit=%s",
		c.baseURL, url.PathEscape(table), url.PathEscape(column), strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var sample []interface{}
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return nil, fmt.Errorf("failed to decode column sample: %w", err)
	}
	return sample, nil
}

func (c *Client) decodeError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var engineErr engineError
	if err := json.Unmarshal(payload, &engineErr); err == nil && engineErr.Error != "" {
		return fmt.Errorf("query engine returned %d: %s", resp.StatusCode, engineErr.Error)
	}
	return fmt.Errorf("query engine returned %d", resp.StatusCode)
}
