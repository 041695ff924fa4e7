package transcript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tracerbot/pkg/session"
)

// DefaultTimeout bounds one upload.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 512

// Payload is the body posted to the persistence backend.
type Payload struct {
	ChatID       string          `json:"chat_id"`
	Conversation []session.Entry `json:"conversation"`
}

// StatusError is returned for a non-2xx persistence reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("persistence returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("persistence returned status %d: %s", e.StatusCode, e.Body)
}

// Client uploads completed transcripts.
type Client struct {
	endpoint string
	token    string
	timeout  time.Duration
	http     *http.Client
}

// New builds a client. The token is sent as a bearer credential when set.
func New(endpoint, token string, timeout time.Duration) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("persistence url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("parse persistence url: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		endpoint: endpoint,
		token:    strings.TrimSpace(token),
		timeout:  timeout,
		http:     &http.Client{},
	}, nil
}

// Save posts the chat's transcript.
func (c *Client) Save(ctx context.Context, chatID string, history []session.Entry) error {
	if history == nil {
		history = []session.Entry{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(Payload{ChatID: chatID, Conversation: history})
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create transcript request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
