// Package store defines the ports the sync engine depends on: the
// authoritative remote cart store, the durable local fallback store, and
// the session credential provider. Adapters live in the subpackages.
package store

import (
	"context"

	"github.com/001Space/cartsync/internal/domain"
)

// RemoteStore is the authoritative backend cart. Every call attaches the
// current bearer credential; a missing or rejected credential surfaces as
// a client-class failure, never as a fallback trigger.
//
// Adapters normalize whatever wire shape the backend answers with into
// the canonical domain.Cart once, at this boundary. The engine never
// inspects raw responses.
type RemoteStore interface {
	Fetch(ctx context.Context) (*domain.Cart, error)
	Add(ctx context.Context, productID string, quantity int) (*domain.Cart, error)
	UpdateItem(ctx context.Context, itemID string, quantity int) (*domain.Cart, error)
	Remove(ctx context.Context, itemID string) error
	Clear(ctx context.Context) error
	Checkout(ctx context.Context) (*domain.Receipt, error)
}

// LocalStore is the durable fallback snapshot. Load returns
// apperrors.ErrNotFound when no snapshot exists. Save must be atomic: a
// concurrent or subsequent Load never observes a partial snapshot.
type LocalStore interface {
	Load(ctx context.Context) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Clear(ctx context.Context) error
}

// Session supplies the current credential. Epoch increments on every
// login and logout; the engine captures it before a remote attempt and
// re-checks it before applying the result, so an in-flight response for
// a previous session is discarded instead of repopulating the cart.
type Session interface {
	Token() (string, bool)
	Epoch() uint64
}
