// Package engine implements the cart synchronization engine: the single
// authority for cart state, arbitrating between the authoritative remote
// store and the durable local fallback store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/001Space/cartsync/internal/domain"
	"github.com/001Space/cartsync/internal/store"
	apperrors "github.com/001Space/cartsync/pkg/errors"
	"github.com/001Space/cartsync/pkg/tracing"
)

// Operation upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single cart item.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct items allowed in a cart.
	MaxItemsPerCart = 50
)

// DefaultRemoteTimeout bounds each remote attempt so a hung request can
// never block the caller indefinitely. A timeout classifies as transient.
const DefaultRemoteTimeout = 5 * time.Second

// AddItemInput holds the parameters for adding an item to the cart. The
// price, name, and image are snapshots taken by the caller at add time;
// they are used verbatim when the mutation degrades to the local store.
type AddItemInput struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0"`
	Name      string `json:"name"`
	ImageURL  string `json:"image_url"`
}

// Result is the uniform outcome of every cart mutation. Fallback reports
// that the operation succeeded only against the local store, so callers
// can tell the user the write is not yet confirmed remotely.
type Result struct {
	Cart     *domain.Cart `json:"cart"`
	Fallback bool         `json:"fallback"`
}

// Engine owns the in-memory cart. All mutations are serialized by a
// mutex: a call arriving while another is in flight queues behind it, so
// no update is ever lost to interleaving.
type Engine struct {
	remote  store.RemoteStore
	local   store.LocalStore
	session store.Session
	ids     *domain.LocalIDGenerator
	logger  *slog.Logger

	remoteTimeout time.Duration

	mu       sync.Mutex
	cart     *domain.Cart
	notifier *notifier
}

// New creates an engine with an empty cart. Call Initialize to populate
// it from the remote store or the local snapshot.
func New(remote store.RemoteStore, local store.LocalStore, session store.Session, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		remote:        remote,
		local:         local,
		session:       session,
		ids:           domain.NewLocalIDGenerator(),
		logger:        logger,
		remoteTimeout: DefaultRemoteTimeout,
		cart:          domain.NewCart(domain.SourceLocalFallback),
		notifier:      newNotifier(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option configures the engine.
type Option func(*Engine)

// WithRemoteTimeout overrides the per-attempt remote call timeout.
func WithRemoteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.remoteTimeout = d }
}

// Initialize populates the cart. Authenticated sessions fetch the
// authoritative remote cart and discard the local snapshot on success;
// on any failure the engine degrades to the local snapshot (or an empty
// cart) without surfacing a hard error. Anonymous sessions load the
// local snapshot only and never touch the remote store.
func (e *Engine) Initialize(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.session.Token(); !ok {
		e.adoptLocalSnapshot(ctx)
		return e.result(true), nil
	}

	epoch := e.session.Epoch()
	remoteCart, err := e.fetchRemote(ctx)
	if e.session.Epoch() != epoch {
		return nil, apperrors.StaleSession()
	}
	if err != nil {
		// Non-fatal: initialization always ends in a usable state.
		e.logger.WarnContext(ctx, "remote fetch failed during initialization, using local snapshot",
			slog.String("error", err.Error()))
		recordRemoteFailure("initialize", err)
		e.adoptLocalSnapshot(ctx)
		return e.result(true), nil
	}

	e.adoptRemote(ctx, remoteCart)
	e.notify()
	return e.result(false), nil
}

// AddItem adds a product to the cart. Requires authentication: anonymous
// calls are rejected without creating any local state. On transient
// remote failure the mutation merges into the local snapshot by product
// id and the result is flagged fallback.
func (e *Engine) AddItem(ctx context.Context, input AddItemInput) (*Result, error) {
	if input.ProductID == "" {
		return nil, apperrors.InvalidArgument("product id is required")
	}
	if input.Quantity < 1 {
		return nil, apperrors.InvalidArgument("quantity must be at least 1")
	}
	if input.Quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidArgument(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}
	if input.UnitPrice < 0 {
		return nil, apperrors.InvalidArgument("unit price must not be negative")
	}

	ctx, span := tracing.StartMutation(ctx, "add_item")
	res, err := e.addItem(ctx, input)
	tracing.EndMutation(span, res != nil && res.Fallback, err)
	return res, err
}

func (e *Engine) addItem(ctx context.Context, input AddItemInput) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.session.Token(); !ok {
		return nil, apperrors.NotAuthenticated("sign in to add items to your cart")
	}

	if e.cart.FindByProductID(input.ProductID) < 0 && len(e.cart.Items) >= MaxItemsPerCart {
		return nil, apperrors.InvalidArgument(fmt.Sprintf("cart must not exceed %d distinct items", MaxItemsPerCart))
	}

	epoch := e.session.Epoch()
	remoteCart, err := e.callRemoteCart(ctx, func(ctx context.Context) (*domain.Cart, error) {
		return e.remote.Add(ctx, input.ProductID, input.Quantity)
	})
	if e.session.Epoch() != epoch {
		return nil, apperrors.StaleSession()
	}
	if err == nil {
		e.adoptRemote(ctx, remoteCart)
		e.notify()
		return e.result(false), nil
	}
	if !apperrors.IsTransient(err) {
		recordRemoteFailure("add_item", err)
		return nil, err
	}

	// Degrade: merge into the local snapshot by product id.
	e.degradeWarn(ctx, "add_item", err)
	if i := e.cart.FindByProductID(input.ProductID); i >= 0 {
		e.cart.Items[i].Quantity += input.Quantity
	} else {
		e.cart.Items = append(e.cart.Items, domain.CartItem{
			ItemID:    e.ids.Next(),
			ProductID: input.ProductID,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitPrice,
			Name:      input.Name,
			ImageURL:  input.ImageURL,
		})
	}
	e.applyLocal(ctx, "add_item")
	e.notify()
	return e.result(true), nil
}

// UpdateQuantity sets the quantity of an existing item. A quantity of
// zero or below removes the item.
func (e *Engine) UpdateQuantity(ctx context.Context, itemID string, quantity int) (*Result, error) {
	if quantity <= 0 {
		return e.RemoveItem(ctx, itemID)
	}
	if quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidArgument(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	ctx, span := tracing.StartMutation(ctx, "update_quantity")
	res, err := e.updateQuantity(ctx, itemID, quantity)
	tracing.EndMutation(span, res != nil && res.Fallback, err)
	return res, err
}

func (e *Engine) updateQuantity(ctx context.Context, itemID string, quantity int) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Local-only items are unknown to the remote store; mutate the
	// snapshot directly. The same applies to anonymous sessions, which
	// only ever see the local cart.
	_, authenticated := e.session.Token()
	if !authenticated || isLocalID(itemID) {
		if i := e.cart.FindByItemID(itemID); i >= 0 {
			e.cart.Items[i].Quantity = quantity
			e.applyLocal(ctx, "update_quantity")
			e.notify()
		}
		return e.result(true), nil
	}

	epoch := e.session.Epoch()
	remoteCart, err := e.callRemoteCart(ctx, func(ctx context.Context) (*domain.Cart, error) {
		return e.remote.UpdateItem(ctx, itemID, quantity)
	})
	if e.session.Epoch() != epoch {
		return nil, apperrors.StaleSession()
	}
	if err == nil {
		e.adoptRemote(ctx, remoteCart)
		e.notify()
		return e.result(false), nil
	}
	if !apperrors.IsTransient(err) {
		recordRemoteFailure("update_quantity", err)
		return nil, err
	}

	e.degradeWarn(ctx, "update_quantity", err)
	if i := e.cart.FindByItemID(itemID); i >= 0 {
		e.cart.Items[i].Quantity = quantity
	}
	e.dropNonPositive()
	e.applyLocal(ctx, "update_quantity")
	e.notify()
	return e.result(true), nil
}

// RemoveItem removes an item. Removing an id that is not in the cart is
// a no-op, not an error.
func (e *Engine) RemoveItem(ctx context.Context, itemID string) (*Result, error) {
	ctx, span := tracing.StartMutation(ctx, "remove_item")
	res, err := e.removeItem(ctx, itemID)
	tracing.EndMutation(span, res != nil && res.Fallback, err)
	return res, err
}

func (e *Engine) removeItem(ctx context.Context, itemID string) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, authenticated := e.session.Token()
	if !authenticated || isLocalID(itemID) {
		e.removeLocal(itemID)
		e.applyLocal(ctx, "remove_item")
		e.notify()
		return e.result(true), nil
	}

	epoch := e.session.Epoch()
	err := e.callRemote(ctx, func(ctx context.Context) error {
		return e.remote.Remove(ctx, itemID)
	})
	if e.session.Epoch() != epoch {
		return nil, apperrors.StaleSession()
	}
	switch {
	case err == nil, errors.Is(err, apperrors.ErrNotFound):
		// Already absent remotely counts as removed.
		e.removeLocal(itemID)
		e.confirmRemote(ctx)
		e.notify()
		return e.result(false), nil
	case apperrors.IsTransient(err):
		e.degradeWarn(ctx, "remove_item", err)
		e.removeLocal(itemID)
		e.applyLocal(ctx, "remove_item")
		e.notify()
		return e.result(true), nil
	default:
		recordRemoteFailure("remove_item", err)
		return nil, err
	}
}

// Clear empties the cart. It always succeeds from the caller's view:
// a remote "cart already empty" answer is success, and a transient
// failure resets the local snapshot instead.
func (e *Engine) Clear(ctx context.Context) (*Result, error) {
	ctx, span := tracing.StartMutation(ctx, "clear")
	res, err := e.clear(ctx)
	tracing.EndMutation(span, res != nil && res.Fallback, err)
	return res, err
}

func (e *Engine) clear(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, authenticated := e.session.Token()
	if !authenticated {
		e.resetLocal(ctx, domain.SourceLocalFallback)
		e.notify()
		return e.result(true), nil
	}

	epoch := e.session.Epoch()
	err := e.callRemote(ctx, func(ctx context.Context) error {
		return e.remote.Clear(ctx)
	})
	if e.session.Epoch() != epoch {
		return nil, apperrors.StaleSession()
	}
	switch {
	case err == nil, errors.Is(err, apperrors.ErrNotFound):
		e.resetLocal(ctx, domain.SourceRemote)
		e.notify()
		return e.result(false), nil
	case apperrors.IsTransient(err):
		e.degradeWarn(ctx, "clear", err)
		e.resetLocal(ctx, domain.SourceLocalFallback)
		e.notify()
		return e.result(true), nil
	default:
		recordRemoteFailure("clear", err)
		return nil, err
	}
}

// Checkout submits the cart. stockCeilings caps quantities per product
// id; stock data is the caller's concern. Checkout requires an
// authenticated session and a non-empty cart, is never retried, and
// never degrades: a failure surfaces verbatim with no state change.
func (e *Engine) Checkout(ctx context.Context, stockCeilings map[string]int) (*domain.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.session.Token(); !ok {
		return nil, apperrors.NotAuthenticated("sign in to check out")
	}
	if e.cart.IsEmpty() {
		return nil, apperrors.EmptyCart()
	}

	var offenders []string
	for _, item := range e.cart.Items {
		if ceiling, ok := stockCeilings[item.ProductID]; ok && item.Quantity > ceiling {
			offenders = append(offenders, item.ProductID)
		}
	}
	if len(offenders) > 0 {
		return nil, apperrors.InsufficientStock(offenders)
	}

	epoch := e.session.Epoch()
	ctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()

	receipt, err := e.remote.Checkout(ctx)
	if e.session.Epoch() != epoch {
		return nil, apperrors.StaleSession()
	}
	if err != nil {
		recordRemoteFailure("checkout", err)
		return nil, err
	}

	e.resetLocal(ctx, domain.SourceRemote)
	e.notify()
	e.logger.InfoContext(ctx, "checkout completed",
		slog.String("order_id", receipt.OrderID),
		slog.Int64("total", receipt.Total))
	return receipt, nil
}

// Totals returns the current item count and total. Pure read.
func (e *Engine) Totals() domain.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cart.Totals()
}

// Snapshot returns a deep copy of the current cart. Callers can never
// mutate engine state through it.
func (e *Engine) Snapshot() *domain.Cart {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cart.Clone()
}

// Subscribe registers a push-on-change listener. Each state change
// delivers a fresh snapshot; slow consumers observe the latest state
// rather than every intermediate one. The returned cancel func releases
// the subscription.
func (e *Engine) Subscribe() (<-chan *domain.Cart, func()) {
	return e.notifier.subscribe()
}

// Reset drops the in-memory cart and the local snapshot. Invoked on
// logout so the next session starts clean.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocal(ctx, domain.SourceLocalFallback)
	e.notify()
}

// ---- internals; callers hold e.mu ----

func (e *Engine) result(fallback bool) *Result {
	return &Result{Cart: e.cart.Clone(), Fallback: fallback}
}

func (e *Engine) notify() {
	observeCartState(e.cart)
	e.notifier.publish(e.cart.Clone())
}

// fetchRemote wraps remote.Fetch with the bounded timeout.
func (e *Engine) fetchRemote(ctx context.Context) (*domain.Cart, error) {
	return e.callRemoteCart(ctx, e.remote.Fetch)
}

func (e *Engine) callRemoteCart(ctx context.Context, fn func(context.Context) (*domain.Cart, error)) (*domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()
	return fn(ctx)
}

func (e *Engine) callRemote(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()
	return fn(ctx)
}

// adoptRemote makes a successful remote response authoritative: any
// local-only state is discarded along with the persisted snapshot.
func (e *Engine) adoptRemote(ctx context.Context, cart *domain.Cart) {
	cart.Source = domain.SourceRemote
	cart.Recompute()
	e.cart = cart
	if err := e.local.Clear(ctx); err != nil {
		e.logger.WarnContext(ctx, "failed to clear local snapshot after remote sync",
			slog.String("error", err.Error()))
	}
}

// confirmRemote marks the in-memory cart remote-confirmed after an
// acknowledged mutation and drops the now-stale persisted snapshot.
func (e *Engine) confirmRemote(ctx context.Context) {
	e.cart.Source = domain.SourceRemote
	e.cart.Recompute()
	if err := e.local.Clear(ctx); err != nil {
		e.logger.WarnContext(ctx, "failed to clear local snapshot after remote sync",
			slog.String("error", err.Error()))
	}
}

// adoptLocalSnapshot loads the persisted snapshot, or starts empty.
func (e *Engine) adoptLocalSnapshot(ctx context.Context) {
	cart, err := e.local.Load(ctx)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			e.logger.WarnContext(ctx, "failed to load local snapshot, starting empty",
				slog.String("error", err.Error()))
		}
		cart = domain.NewCart(domain.SourceLocalFallback)
	}
	e.cart = cart
	observeCartState(e.cart)
}

// applyLocal finalizes a fallback mutation: recompute, tag the source,
// persist, count.
func (e *Engine) applyLocal(ctx context.Context, op string) {
	e.cart.Source = domain.SourceLocalFallback
	e.cart.Recompute()
	if err := e.local.Save(ctx, e.cart); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist local snapshot",
			slog.String("op", op),
			slog.String("error", err.Error()))
	}
	fallbackOperationsTotal.WithLabelValues(op).Inc()
}

// removeLocal drops entries matching the item id, also matching by
// product id for local-only entries so optimistic items can be removed
// by either handle.
func (e *Engine) removeLocal(itemID string) {
	productID := ""
	if i := e.cart.FindByItemID(itemID); i >= 0 {
		productID = e.cart.Items[i].ProductID
	}

	kept := e.cart.Items[:0]
	for _, item := range e.cart.Items {
		if item.ItemID == itemID {
			continue
		}
		if productID != "" && item.IsLocal() && item.ProductID == productID {
			continue
		}
		kept = append(kept, item)
	}
	e.cart.Items = kept
}

func (e *Engine) dropNonPositive() {
	kept := e.cart.Items[:0]
	for _, item := range e.cart.Items {
		if item.Quantity > 0 {
			kept = append(kept, item)
		}
	}
	e.cart.Items = kept
}

// resetLocal empties the cart and drops the persisted snapshot.
func (e *Engine) resetLocal(ctx context.Context, source domain.Source) {
	e.cart = domain.NewCart(source)
	if err := e.local.Clear(ctx); err != nil {
		e.logger.WarnContext(ctx, "failed to clear local snapshot",
			slog.String("error", err.Error()))
	}
	observeCartState(e.cart)
}

func (e *Engine) degradeWarn(ctx context.Context, op string, err error) {
	recordRemoteFailure(op, err)
	e.logger.WarnContext(ctx, "remote mutation failed, degrading to local store",
		slog.String("op", op),
		slog.String("error", err.Error()))
}

func isLocalID(itemID string) bool {
	return domain.CartItem{ItemID: itemID}.IsLocal()
}
