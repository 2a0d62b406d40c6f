// Package identity provides the client for the external face-embedding
// comparator. The engine never compares embeddings itself; it owns only the
// policy of when to ask and how to react.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultDistanceThreshold is the Euclidean distance above which two
// embeddings are considered different people.
const DefaultDistanceThreshold = 0.6

// ErrNoReference is returned when the comparator has no stored reference
// embedding for the session's candidate.
var ErrNoReference = errors.New("identity: no reference embedding")

// Result is the comparator's verdict on one live embedding.
type Result struct {
	IsMatch   bool    `json:"isMatch"`
	Distance  float64 `json:"distance"`
	Threshold float64 `json:"threshold"`
}

// Comparator compares a live embedding against the candidate's stored
// reference.
type Comparator interface {
	Compare(ctx context.Context, embedding []float64, sessionID string) (Result, error)
}

// HTTPComparator calls a JSON-over-HTTP comparator endpoint. The configured
// distance threshold travels with every request, so the match policy is set
// by the daemon operator rather than by the comparator's own default.
type HTTPComparator struct {
	endpoint  string
	threshold float64
	client    *http.Client
}

// NewHTTPComparator creates a comparator client for the given endpoint.
// threshold <= 0 falls back to DefaultDistanceThreshold.
func NewHTTPComparator(endpoint string, threshold float64, timeout time.Duration) *HTTPComparator {
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPComparator{
		endpoint:  endpoint,
		threshold: threshold,
		client:    &http.Client{Timeout: timeout},
	}
}

type compareRequest struct {
	Embedding []float64 `json:"currentEmbedding"`
	SessionID string    `json:"sessionId"`
	Threshold float64   `json:"threshold"`
}

// Compare posts the live embedding and decodes the verdict.
func (c *HTTPComparator) Compare(ctx context.Context, embedding []float64, sessionID string) (Result, error) {
	body, err := json.Marshal(compareRequest{
		Embedding: embedding,
		SessionID: sessionID,
		Threshold: c.threshold,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal compare request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build compare request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("compare embeddings: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return Result{}, ErrNoReference
	default:
		return Result{}, fmt.Errorf("comparator returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode compare response: %w", err)
	}
	return result, nil
}
