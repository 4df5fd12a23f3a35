// Package notify posts OTP notifications to the notification service, which
// handles the actual email delivery.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mkrivacevic11921rn/settlement-core/internal/ledger"
)

type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string) *Client {
	return &Client{url: url, http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) Notify(ctx context.Context, n ledger.Notification) error {
	body, err := json.Marshal(map[string]string{
		"email":      n.Email,
		"first_name": n.FirstName,
		"last_name":  n.LastName,
		"subject":    n.Subject,
		"message":    n.Message,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("notification service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification service: status %d", resp.StatusCode)
	}
	return nil
}
