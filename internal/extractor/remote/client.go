// Package remote calls an HTTP embedding service that detects faces and
// returns one embedding per face.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dtroode/faceid-server/internal/logger"
	"github.com/dtroode/faceid-server/internal/model"
)

const (
	embedPath  = "/embed"
	healthPath = "/health"
	maxBody    = 4 << 20
)

var _ model.Extractor = (*Client)(nil)

type face struct {
	Embedding  []float32 `json:"embedding"`
	Confidence float64   `json:"confidence"`
}

type embedResponse struct {
	Faces []face `json:"faces"`
}

// Client posts JPEG images to the embedding service.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	minConfidence float64
	logger        *logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, minConfidence float64, logger *logger.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout},
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Extract returns the embeddings of all faces detected with at least the
// configured confidence.
func (c *Client) Extract(ctx context.Context, image []byte) ([]model.Descriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embedPath, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrExtractorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", model.ErrExtractorUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidImage, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", model.ErrExtractorUnavailable, resp.StatusCode)
	}

	var out embedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %w", model.ErrExtractorUnavailable, err)
	}

	descriptors := make([]model.Descriptor, 0, len(out.Faces))
	for _, f := range out.Faces {
		if f.Confidence < c.minConfidence {
			c.logger.Debug("dropping low confidence face", "confidence", f.Confidence)
			continue
		}
		descriptors = append(descriptors, f.Embedding)
	}
	return descriptors, nil
}

// Ping reports whether the service answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// WaitReady pings the service every interval until it answers or ctx ends.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		err := c.Ping(ctx)
		if err == nil {
			return nil
		}
		c.logger.Info("waiting for embedding service", "url", c.baseURL, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("embedding service not ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
