package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/001Space/cartsync/internal/domain"
	apperrors "github.com/001Space/cartsync/pkg/errors"
)

// The backend family answers in a handful of shapes: a {"data": ...}
// envelope or a flat object, items under "items" or "products", ids and
// prices under a few legacy field names, numeric or string ids. All of
// them are normalized into the canonical model here.

type wireCart struct {
	Items    []wireItem `json:"items"`
	Products []wireItem `json:"products"`
}

type wireItem struct {
	ItemID    json.RawMessage `json:"item_id"`
	ID        json.RawMessage `json:"id"`
	ProductID json.RawMessage `json:"product_id"`
	Product   json.RawMessage `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice int64           `json:"unit_price"`
	Price     int64           `json:"price"`
	Name      string          `json:"name"`
	Title     string          `json:"title"`
	ImageURL  string          `json:"image_url"`
	Image     string          `json:"image"`
}

// decodeCart reads and normalizes a cart response body. Malformed bodies
// are classified as transient so the engine degrades instead of wedging.
func (c *Client) decodeCart(resp *http.Response) (*domain.Cart, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.TransientBackendFailure(err)
	}

	cart, err := normalizeCart(raw)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperrors.TransientBackendFailure(fmt.Errorf("response carries no cart payload"))
	}
	return cart, nil
}

// cartOrRefetch normalizes a mutation response into a cart; when the
// backend answered with a bare acknowledgement (no recognizable cart
// payload), it fetches the authoritative cart instead.
func (c *Client) cartOrRefetch(ctx context.Context, resp *http.Response) (*domain.Cart, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.TransientBackendFailure(err)
	}

	if cart, err := normalizeCart(raw); err == nil && cart != nil {
		return cart, nil
	}
	return c.Fetch(ctx)
}

// normalizeCart maps any accepted wire shape onto the canonical cart.
// Returns (nil, nil) when the payload carries no recognizable cart.
func normalizeCart(raw []byte) (*domain.Cart, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.TransientBackendFailure(fmt.Errorf("decode cart: %w", err))
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		raw = env.Data
	}

	var wc wireCart
	if err := json.Unmarshal(raw, &wc); err != nil {
		return nil, apperrors.TransientBackendFailure(fmt.Errorf("decode cart: %w", err))
	}

	wireItems := wc.Items
	if wireItems == nil {
		wireItems = wc.Products
	}
	if wireItems == nil {
		// No cart payload at all (bare acknowledgement).
		return nil, nil
	}

	cart := domain.NewCart(domain.SourceRemote)
	for _, wi := range wireItems {
		item := domain.CartItem{
			ItemID:    firstString(wi.ItemID, wi.ID),
			ProductID: firstString(wi.ProductID, wi.Product),
			Quantity:  wi.Quantity,
			UnitPrice: wi.UnitPrice,
			Name:      wi.Name,
			ImageURL:  wi.ImageURL,
		}
		if item.UnitPrice == 0 {
			item.UnitPrice = wi.Price
		}
		if item.Name == "" {
			item.Name = wi.Title
		}
		if item.ImageURL == "" {
			item.ImageURL = wi.Image
		}
		if item.ProductID == "" {
			return nil, apperrors.TransientBackendFailure(fmt.Errorf("cart item missing product id"))
		}
		cart.Items = append(cart.Items, item)
	}
	cart.Recompute()
	return cart, nil
}

// firstString decodes the first non-empty raw value as a string,
// accepting numeric ids and stringifying them.
func firstString(candidates ...json.RawMessage) string {
	for _, raw := range candidates {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err == nil {
			return strconv.FormatInt(n, 10)
		}
	}
	return ""
}
