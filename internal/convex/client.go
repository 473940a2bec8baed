// Package convex is the history-sink adapter: one HTTP mutation per probe
// result, sent to the Convex deployment selected by the job's environment.
package convex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const mutationPath = "linkHealth:recordHealthCheck"

// HealthCheckRecord is the mutation argument payload. CheckedAt is epoch
// milliseconds; together with URLID it forms the sink's idempotency key.
type HealthCheckRecord struct {
	SharedSecret string `json:"sharedSecret"`
	URLID        string `json:"urlId"`
	UserID       string `json:"userId"`
	ShortURL     string `json:"shortUrl"`
	LongURL      string `json:"longUrl"`
	StatusCode   int    `json:"statusCode"`
	LatencyMS    int64  `json:"latencyMs"`
	IsHealthy    bool   `json:"isHealthy"`
	HealthStatus string `json:"healthStatus"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CheckedAt    int64  `json:"checkedAt"`
}

type mutationRequest struct {
	Path   string            `json:"path"`
	Args   HealthCheckRecord `json:"args"`
	Format string            `json:"format"`
}

// Client talks to one Convex deployment. One client per environment for the
// life of the process.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *zap.SugaredLogger
}

// NewClient builds a client for the deployment at baseURL.
func NewClient(baseURL string, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With("component", "convex"),
	}
}

// RecordHealthCheck sends one observation. Every error is transient from
// the caller's point of view; the response body is opaque and discarded.
func (c *Client) RecordHealthCheck(ctx context.Context, rec HealthCheckRecord) error {
	body, err := json.Marshal(mutationRequest{Path: mutationPath, Args: rec, Format: "json"})
	if err != nil {
		return fmt.Errorf("marshal mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/mutation", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("post mutation: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 16<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mutation %s returned status %d", mutationPath, resp.StatusCode)
	}
	return nil
}
