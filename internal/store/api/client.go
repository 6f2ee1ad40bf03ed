// Package api adapts the backend cart REST API to the RemoteStore port.
// Response envelopes of any accepted wire shape are normalized into the
// canonical domain model here, at the boundary; the engine never sees a
// raw response.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/001Space/cartsync/internal/domain"
	"github.com/001Space/cartsync/internal/store"
	apperrors "github.com/001Space/cartsync/pkg/errors"
	"github.com/001Space/cartsync/pkg/httpclient"
)

// Client implements store.RemoteStore against the backend cart API.
type Client struct {
	baseURL string
	http    *httpclient.CircuitBreakerClient
	session store.Session
	logger  *slog.Logger
}

// New creates a remote store client. baseURL is the backend root, e.g.
// "https://api.shop.example.com".
func New(baseURL string, httpClient *httpclient.CircuitBreakerClient, session store.Session, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		session: session,
		logger:  logger,
	}
}

// Fetch retrieves the authoritative cart.
func (c *Client) Fetch(ctx context.Context) (*domain.Cart, error) {
	resp, err := c.do(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return nil, err
	}
	return c.decodeCart(resp)
}

// Add adds a product to the remote cart. Backends that answer with a
// bare acknowledgement instead of the updated cart are followed by a
// fetch so the caller always gets the authoritative state.
func (c *Client) Add(ctx context.Context, productID string, quantity int) (*domain.Cart, error) {
	body := map[string]any{"product_id": productID, "quantity": quantity}
	resp, err := c.do(ctx, http.MethodPost, "/cart/items", body)
	if err != nil {
		return nil, err
	}
	return c.cartOrRefetch(ctx, resp)
}

// UpdateItem sets the quantity of an existing remote item.
func (c *Client) UpdateItem(ctx context.Context, itemID string, quantity int) (*domain.Cart, error) {
	body := map[string]any{"quantity": quantity}
	resp, err := c.do(ctx, http.MethodPut, "/cart/items/"+itemID, body)
	if err != nil {
		return nil, err
	}
	return c.cartOrRefetch(ctx, resp)
}

// Remove deletes an item from the remote cart.
func (c *Client) Remove(ctx context.Context, itemID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/cart/items/"+itemID, nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Clear empties the remote cart.
func (c *Client) Clear(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/cart", nil)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Checkout submits the remote cart for checkout and returns the receipt.
func (c *Client) Checkout(ctx context.Context) (*domain.Receipt, error) {
	resp, err := c.do(ctx, http.MethodPost, "/cart/checkout", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.TransientBackendFailure(err)
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, apperrors.TransientBackendFailure(fmt.Errorf("decode receipt: %w", err))
		}
		if len(env.Data) > 0 && string(env.Data) != "null" {
			raw = env.Data
		}
	}

	var receipt domain.Receipt
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &receipt); err != nil {
			return nil, apperrors.TransientBackendFailure(fmt.Errorf("decode receipt: %w", err))
		}
	}
	return &receipt, nil
}

// do builds the request, attaches the bearer credential, executes it
// through the retrying breaker-wrapped client, and maps non-2xx statuses
// to the error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, ok := c.session.Token()
	if !ok {
		return nil, apperrors.ErrNotAuthenticated
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpclient.ParseResponseError(resp)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}
