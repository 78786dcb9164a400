// Package sinks provides the HTTP clients that deliver candidate batches to
// the downstream late-stage and early-stage rankers.
package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/searchforge/candidate_merge/merge"
)

const (
	defaultTimeout  = 2 * time.Second
	defaultRetryMax = 2
	minBackoff      = 100 * time.Millisecond
	maxBackoff      = 2 * time.Second
	rankPath        = "/v1/rank"
	healthPath      = "/healthz"
	contentTypeJSON = "application/json"
)

// HTTPClient represents a minimal http client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RankerClient posts candidate batches to a ranker endpoint with bounded
// retry. One client serves one ranker; the same type backs both the
// late-stage and early-stage roles.
type RankerClient struct {
	name     string
	baseURL  string
	client   HTTPClient
	retryMax int
}

var (
	_ merge.LateStageSink  = (*RankerClient)(nil)
	_ merge.EarlyStageSink = (*RankerClient)(nil)
)

// NewRankerClient creates a ranker client.
func NewRankerClient(name, baseURL string, client HTTPClient, retryMax int) (*RankerClient, error) {
	if name == "" {
		return nil, fmt.Errorf("ranker name required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("ranker %s baseURL required", name)
	}
	if client == nil {
		client = &http.Client{
			Timeout: defaultTimeout,
		}
	}
	if retryMax < 0 {
		retryMax = defaultRetryMax
	}

	return &RankerClient{
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		retryMax: retryMax,
	}, nil
}

// NewRankerClientFromEnv builds the client using environment variables,
// reading the ranker URL from urlEnv.
func NewRankerClientFromEnv(name, urlEnv string) (*RankerClient, error) {
	baseURL := strings.TrimSpace(os.Getenv(urlEnv))
	if baseURL == "" {
		return nil, fmt.Errorf("%s not set", urlEnv)
	}

	timeout := parseDurationFromEnv("SINK_TIMEOUT_MS", defaultTimeout)
	retryMax := parseIntFromEnv("SINK_RETRY_MAX", defaultRetryMax)

	httpClient := &http.Client{
		Timeout: timeout,
	}

	return NewRankerClient(name, baseURL, httpClient, retryMax)
}

// SendCandidates posts an escalation batch to the late-stage ranker.
func (c *RankerClient) SendCandidates(ctx context.Context, itemIDs []string) error {
	payload := map[string]any{
		"items": itemIDs,
	}
	return c.post(ctx, payload)
}

// SendScored posts the timeout fallback selection to the early-stage ranker.
func (c *RankerClient) SendScored(ctx context.Context, items []merge.ScoredItem) error {
	if items == nil {
		items = []merge.ScoredItem{}
	}
	payload := map[string]any{
		"items": items,
	}
	return c.post(ctx, payload)
}

// Ping validates the ranker is reachable.
func (c *RankerClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s unhealthy: status %d", c.name, resp.StatusCode)
	}
	return nil
}

func (c *RankerClient) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	fullURL := c.baseURL + rankPath

	var (
		attempt   int
		lastError error
		backoff   = minBackoff
	)

	for {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", contentTypeJSON)
		req.Header.Set("Accept", contentTypeJSON)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastError = err
		} else {
			status := resp.StatusCode
			respBody, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()

			switch {
			case readErr != nil:
				lastError = fmt.Errorf("read response: %w", readErr)
			case status >= 500 && attempt <= c.retryMax:
				lastError = fmt.Errorf("server error: %s", strings.TrimSpace(string(respBody)))
			case status >= 400:
				return fmt.Errorf("%s error: %s", c.name, strings.TrimSpace(string(respBody)))
			default:
				return nil
			}
		}

		if attempt > c.retryMax {
			if lastError == nil {
				lastError = fmt.Errorf("request failed after %d attempts", attempt-1)
			}
			return lastError
		}

		if !sleepWithContext(ctx, backoff) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("retry interrupted")
		}
		backoff = nextBackoff(backoff)
	}
}

func (c *RankerClient) String() string {
	return fmt.Sprintf("ranker_client{name=%s,base=%s,retry_max=%d}", c.name, c.baseURL, c.retryMax)
}

func parseDurationFromEnv(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	ms, err := strconv.Atoi(value)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func parseIntFromEnv(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
