package domain

import "strings"

// Source tags where the cart's last successful sync came from.
type Source string

const (
	SourceRemote        Source = "remote"
	SourceLocalFallback Source = "local_fallback"
)

// LocalIDPrefix namespaces locally generated item ids so they can never
// collide with remote-assigned ids within one cart lifetime.
const LocalIDPrefix = "local-"

// CartItem represents a single item in the cart. UnitPrice, Name, and
// ImageURL are snapshots taken at add time; they are not re-fetched from
// the product catalog on each read.
type CartItem struct {
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Name      string `json:"name,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// IsLocal reports whether the item id was generated locally during a
// fallback mutation rather than assigned by the remote store.
func (i CartItem) IsLocal() bool {
	return strings.HasPrefix(i.ItemID, LocalIDPrefix)
}

// Cart represents the in-memory cart owned by the sync engine. Total is
// derived from the items and recomputed after every mutation; it is never
// stored authoritatively.
type Cart struct {
	Items  []CartItem `json:"items"`
	Total  int64      `json:"total"`
	Source Source     `json:"source"`
}

// Totals is the read model returned by the totals operation. ItemCount
// sums quantities, not distinct items.
type Totals struct {
	ItemCount int   `json:"item_count"`
	Total     int64 `json:"total"`
}

// Receipt is the checkout result passed through verbatim from the remote
// store.
type Receipt struct {
	OrderID string `json:"order_id"`
	Total   int64  `json:"total"`
	Status  string `json:"status,omitempty"`
}

// NewCart returns an empty cart with the given source tag.
func NewCart(source Source) *Cart {
	return &Cart{Items: []CartItem{}, Source: source}
}

// Recompute rederives Total from the items. Call after every mutation.
func (c *Cart) Recompute() {
	var total int64
	for _, item := range c.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	c.Total = total
}

// Totals computes the read model from the current items.
func (c *Cart) Totals() Totals {
	var count int
	var total int64
	for _, item := range c.Items {
		count += item.Quantity
		total += item.UnitPrice * int64(item.Quantity)
	}
	return Totals{ItemCount: count, Total: total}
}

// IsEmpty reports whether the cart has no items.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindByItemID returns the index of the item with the given id, or -1.
func (c *Cart) FindByItemID(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// FindByProductID returns the index of the first item referencing the
// given product, or -1.
func (c *Cart) FindByProductID(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy. Callers of the engine receive clones so they
// can never mutate engine-owned state.
func (c *Cart) Clone() *Cart {
	cp := &Cart{
		Items:  make([]CartItem, len(c.Items)),
		Total:  c.Total,
		Source: c.Source,
	}
	copy(cp.Items, c.Items)
	return cp
}
