package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dmarkov/verifio-backend/pkg/config"
)

// Message is the relay's request body.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sender is what the dispatcher depends on.
type Sender interface {
	Send(ctx context.Context, msg Message, idempotencyKey string) error
}

// Client posts mail to the HTTP relay. One attempt per call; retries belong
// to the outbox, not here.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a relay client from config.
func NewClient(cfg config.MailConfig) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing mail base url: %w", err)
	}
	endpoint := base.JoinPath(cfg.SendPath).String()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

// Send delivers one message. A transport error or any non-2xx status is a
// failure; the relay may use the idempotency key to suppress duplicates when
// the outbox retries.
func (c *Client) Send(ctx context.Context, msg Message, idempotencyKey string) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal mail request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("mail relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
