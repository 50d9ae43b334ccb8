package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const defaultBaseURL = "https://apis.roblox.com/messaging-service"

// RobloxPublisher delivers events through the Roblox Open Cloud
// messaging-service publish API. Each universe subscribes its game servers to
// the configured topic and executes the commands it receives. Transient
// failures (connection errors, 5xx, 429) are retried inside the HTTP client;
// the relay itself never retries a delivery.
type RobloxPublisher struct {
	apiKey  string
	topic   string
	baseURL string
	client  *http.Client
}

type RobloxPublisherOptions struct {
	APIKey string
	Topic  string
	// BaseURL overrides the Open Cloud endpoint, for tests.
	BaseURL string
	Timeout time.Duration
}

func NewRobloxPublisher(opts RobloxPublisherOptions) (*RobloxPublisher, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("APIKey is required")
	}
	topic := strings.TrimSpace(opts.Topic)
	if topic == "" {
		topic = "DTRModerationCommand"
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	client := retryClient.StandardClient()
	client.Timeout = timeout

	return &RobloxPublisher{
		apiKey:  opts.APIKey,
		topic:   topic,
		baseURL: baseURL,
		client:  client,
	}, nil
}

func (p *RobloxPublisher) Publish(ctx context.Context, universeID string, message []byte) error {
	// Open Cloud wraps the payload: the topic message is a JSON string, not
	// an object.
	body, err := json.Marshal(struct {
		Message string `json:"message"`
	}{Message: string(message)})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := fmt.Sprintf("%s/v1/universes/%s/topics/%s", p.baseURL, universeID, p.topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build publish request: %w", err)
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("publish to universe %s: %w", universeID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("publish to universe %s: unexpected status %d", universeID, resp.StatusCode)
	}
	return nil
}
