// Package customer is the HTTP client for the customer directory service,
// which owns identity data the ledger only references by owner id.
package customer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mkrivacevic11921rn/settlement-core/internal/ledger"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) CustomerByID(ctx context.Context, id int64) (ledger.Customer, error) {
	url := fmt.Sprintf("%s/api/v1/customers/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ledger.Customer{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ledger.Customer{}, fmt.Errorf("customer service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ledger.Customer{}, fmt.Errorf("customer service: status %d for customer %d", resp.StatusCode, id)
	}

	var body struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Address   string `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ledger.Customer{}, fmt.Errorf("customer service: decode: %w", err)
	}
	return ledger.Customer{
		ID:        body.ID,
		FirstName: body.FirstName,
		LastName:  body.LastName,
		Email:     body.Email,
		Address:   body.Address,
	}, nil
}
