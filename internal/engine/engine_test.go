package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/001Space/cartsync/internal/domain"
	apperrors "github.com/001Space/cartsync/pkg/errors"
)

// ----------------------------------------------------------------------------
// Test doubles
// ----------------------------------------------------------------------------

// fakeRemote is a scriptable remote store. The default behavior simulates
// a working backend that keeps its own cart and merges adds by product id,
// assigning numeric remote ids. Individual methods can be overridden.
type fakeRemote struct {
	mu     sync.Mutex
	cart   *domain.Cart
	nextID int
	calls  []string

	failWith error // when set, every call fails with this error
	onCall   func(op string)

	fetchFn func(ctx context.Context) (*domain.Cart, error)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{cart: domain.NewCart(domain.SourceRemote), nextID: 100}
}

func (r *fakeRemote) enter(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, op)
	if r.onCall != nil {
		r.onCall(op)
	}
	return r.failWith
}

func (r *fakeRemote) callCount(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == op {
			n++
		}
	}
	return n
}

func (r *fakeRemote) Fetch(ctx context.Context) (*domain.Cart, error) {
	if err := r.enter("fetch"); err != nil {
		return nil, err
	}
	if r.fetchFn != nil {
		return r.fetchFn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cart.Clone(), nil
}

func (r *fakeRemote) Add(ctx context.Context, productID string, quantity int) (*domain.Cart, error) {
	if err := r.enter("add"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.cart.FindByProductID(productID); i >= 0 {
		r.cart.Items[i].Quantity += quantity
	} else {
		r.nextID++
		r.cart.Items = append(r.cart.Items, domain.CartItem{
			ItemID:    strconv.Itoa(r.nextID),
			ProductID: productID,
			Quantity:  quantity,
			UnitPrice: 1000,
		})
	}
	r.cart.Recompute()
	return r.cart.Clone(), nil
}

func (r *fakeRemote) UpdateItem(ctx context.Context, itemID string, quantity int) (*domain.Cart, error) {
	if err := r.enter("update"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.cart.FindByItemID(itemID); i >= 0 {
		r.cart.Items[i].Quantity = quantity
	}
	r.cart.Recompute()
	return r.cart.Clone(), nil
}

func (r *fakeRemote) Remove(ctx context.Context, itemID string) error {
	if err := r.enter("remove"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.cart.FindByItemID(itemID); i >= 0 {
		r.cart.Items = append(r.cart.Items[:i], r.cart.Items[i+1:]...)
	}
	r.cart.Recompute()
	return nil
}

func (r *fakeRemote) Clear(ctx context.Context) error {
	if err := r.enter("clear"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cart = domain.NewCart(domain.SourceRemote)
	return nil
}

func (r *fakeRemote) Checkout(ctx context.Context) (*domain.Receipt, error) {
	if err := r.enter("checkout"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	receipt := &domain.Receipt{OrderID: "ord-1", Total: r.cart.Total, Status: "confirmed"}
	r.cart = domain.NewCart(domain.SourceRemote)
	return receipt, nil
}

// fakeLocal is an in-memory local store recording save/clear counts.
type fakeLocal struct {
	mu       sync.Mutex
	snapshot *domain.Cart
	saves    int
	clears   int
}

func (l *fakeLocal) Load(ctx context.Context) (*domain.Cart, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot == nil {
		return nil, apperrors.ErrNotFound
	}
	return l.snapshot.Clone(), nil
}

func (l *fakeLocal) Save(ctx context.Context, cart *domain.Cart) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = cart.Clone()
	l.saves++
	return nil
}

func (l *fakeLocal) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshot = nil
	l.clears++
	return nil
}

func (l *fakeLocal) saveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saves
}

func (l *fakeLocal) stored() *domain.Cart {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.snapshot == nil {
		return nil
	}
	return l.snapshot.Clone()
}

// fakeSession is a settable credential source.
type fakeSession struct {
	mu    sync.Mutex
	token string
	epoch uint64
}

func (s *fakeSession) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *fakeSession) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

func (s *fakeSession) bump() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestEngine(remote *fakeRemote, local *fakeLocal, session *fakeSession) *Engine {
	return New(remote, local, session, testLogger(), WithRemoteTimeout(time.Second))
}

func authSession() *fakeSession { return &fakeSession{token: "tok", epoch: 1} }

func assertTotalInvariant(t *testing.T, cart *domain.Cart) {
	t.Helper()
	var want int64
	seen := make(map[string]struct{})
	for _, item := range cart.Items {
		want += item.UnitPrice * int64(item.Quantity)
		_, dup := seen[item.ItemID]
		require.False(t, dup, "duplicate item id %s", item.ItemID)
		seen[item.ItemID] = struct{}{}
	}
	assert.Equal(t, want, cart.Total)
}

// ----------------------------------------------------------------------------
// Initialize
// ----------------------------------------------------------------------------

func TestInitialize_AuthenticatedAdoptsRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.cart.Items = []domain.CartItem{{ItemID: "101", ProductID: "p1", Quantity: 2, UnitPrice: 500}}
	remote.cart.Recompute()
	local := &fakeLocal{snapshot: &domain.Cart{
		Items: []domain.CartItem{{ItemID: "local-1", ProductID: "p9", Quantity: 1, UnitPrice: 100}},
	}}
	e := newTestEngine(remote, local, authSession())

	res, err := e.Initialize(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, domain.SourceRemote, res.Cart.Source)
	require.Len(t, res.Cart.Items, 1)
	assert.Equal(t, "101", res.Cart.Items[0].ItemID)
	assertTotalInvariant(t, res.Cart)

	// Remote success discards the stale local snapshot.
	assert.Nil(t, local.stored())
}

func TestInitialize_RemoteFailureFallsBackToSnapshot(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("connection refused"))
	local := &fakeLocal{snapshot: &domain.Cart{
		Items: []domain.CartItem{{ItemID: "local-1", ProductID: "p1", Quantity: 3, UnitPrice: 200}},
	}}
	e := newTestEngine(remote, local, authSession())

	res, err := e.Initialize(context.Background())
	require.NoError(t, err, "initialization failures must be non-fatal")
	assert.True(t, res.Fallback)
	assert.Equal(t, domain.SourceLocalFallback, res.Cart.Source)
	require.Len(t, res.Cart.Items, 1)
	assert.Equal(t, int64(600), res.Cart.Total)
}

func TestInitialize_RemoteFailureNoSnapshotStartsEmpty(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("boom"))
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	res, err := e.Initialize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Empty(t, res.Cart.Items)
}

func TestInitialize_AnonymousNeverCallsRemote(t *testing.T) {
	remote := newFakeRemote()
	local := &fakeLocal{snapshot: &domain.Cart{
		Items: []domain.CartItem{{ItemID: "local-1", ProductID: "p1", Quantity: 1, UnitPrice: 150}},
	}}
	e := newTestEngine(remote, local, &fakeSession{})

	res, err := e.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, remote.callCount("fetch"))
	assert.Equal(t, domain.SourceLocalFallback, res.Cart.Source)
	require.Len(t, res.Cart.Items, 1)
}

func TestInitialize_RemoteTimeoutIsTransient(t *testing.T) {
	remote := newFakeRemote()
	remote.fetchFn = func(ctx context.Context) (*domain.Cart, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	e := New(remote, &fakeLocal{}, authSession(), testLogger(), WithRemoteTimeout(20*time.Millisecond))

	res, err := e.Initialize(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Fallback)
}

// ----------------------------------------------------------------------------
// AddItem
// ----------------------------------------------------------------------------

func TestAddItem_InvalidQuantity(t *testing.T) {
	e := newTestEngine(newFakeRemote(), &fakeLocal{}, authSession())

	for _, qty := range []int{0, -1} {
		_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: qty})
		assert.ErrorIs(t, err, apperrors.ErrInvalidArgument, "quantity %d", qty)
	}
	assert.Empty(t, e.Snapshot().Items)
}

func TestAddItem_MissingProductID(t *testing.T) {
	e := newTestEngine(newFakeRemote(), &fakeLocal{}, authSession())

	_, err := e.AddItem(context.Background(), AddItemInput{Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestAddItem_AnonymousLeavesNoSnapshot(t *testing.T) {
	remote := newFakeRemote()
	local := &fakeLocal{}
	e := newTestEngine(remote, local, &fakeSession{})

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	assert.Empty(t, e.Snapshot().Items)
	assert.Equal(t, 0, local.saveCount())
	assert.Nil(t, local.stored())
	assert.Equal(t, 0, remote.callCount("add"))
}

func TestAddItem_RemoteSuccessIsAuthoritative(t *testing.T) {
	remote := newFakeRemote()
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())

	res, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 2, UnitPrice: 999})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, domain.SourceRemote, res.Cart.Source)
	require.Len(t, res.Cart.Items, 1)
	// The remote-assigned id and price win over the caller's snapshot.
	assert.Equal(t, "101", res.Cart.Items[0].ItemID)
	assert.Equal(t, int64(1000), res.Cart.Items[0].UnitPrice)
	assertTotalInvariant(t, res.Cart)
}

func TestAddItem_FallbackMergesByProduct(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("status 500"))
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())

	res1, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 2, UnitPrice: 300, Name: "Mug"})
	require.NoError(t, err)
	assert.True(t, res1.Fallback)

	res2, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 3, UnitPrice: 300})
	require.NoError(t, err)
	assert.True(t, res2.Fallback)

	require.Len(t, res2.Cart.Items, 1)
	assert.Equal(t, 5, res2.Cart.Items[0].Quantity)
	assert.Equal(t, int64(1500), res2.Cart.Total)
	assert.True(t, res2.Cart.Items[0].IsLocal())
	assert.Equal(t, domain.SourceLocalFallback, res2.Cart.Source)
	assertTotalInvariant(t, res2.Cart)

	// Each degraded mutation persists the updated snapshot.
	assert.Equal(t, 2, local.saveCount())
	stored := local.stored()
	require.NotNil(t, stored)
	assert.Equal(t, 5, stored.Items[0].Quantity)
}

func TestAddItem_ClientErrorDoesNotDegrade(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.RemoteRejected(400, "unknown product")
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRemoteRejected)
	assert.Empty(t, e.Snapshot().Items)
	assert.Equal(t, 0, local.saveCount())
}

func TestAddItem_NextMutationRetriesRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("boom"))
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1, UnitPrice: 100})
	require.NoError(t, err)

	// Backend recovers; the next mutation goes remote again, and the
	// authoritative response replaces the fallback state.
	remote.failWith = nil
	res, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p2", Quantity: 1, UnitPrice: 100})
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, domain.SourceRemote, res.Cart.Source)
	assert.Equal(t, 2, remote.callCount("add"))
}

// ----------------------------------------------------------------------------
// UpdateQuantity / RemoveItem
// ----------------------------------------------------------------------------

func TestUpdateQuantity_ZeroAndNegativeRemove(t *testing.T) {
	for _, qty := range []int{0, -1} {
		remote := newFakeRemote()
		remote.cart.Items = []domain.CartItem{{ItemID: "101", ProductID: "p1", Quantity: 2, UnitPrice: 100}}
		remote.cart.Recompute()
		e := newTestEngine(remote, &fakeLocal{}, authSession())
		_, err := e.Initialize(context.Background())
		require.NoError(t, err)

		res, err := e.UpdateQuantity(context.Background(), "101", qty)
		require.NoError(t, err)
		assert.Empty(t, res.Cart.Items, "quantity %d must remove the item", qty)
		assert.Equal(t, 1, remote.callCount("remove"))
		assert.Equal(t, 0, remote.callCount("update"))
	}
}

func TestUpdateQuantity_RemoteSuccess(t *testing.T) {
	remote := newFakeRemote()
	remote.cart.Items = []domain.CartItem{{ItemID: "101", ProductID: "p1", Quantity: 2, UnitPrice: 100}}
	remote.cart.Recompute()
	e := newTestEngine(remote, &fakeLocal{}, authSession())
	_, err := e.Initialize(context.Background())
	require.NoError(t, err)

	res, err := e.UpdateQuantity(context.Background(), "101", 7)
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Equal(t, 7, res.Cart.Items[0].Quantity)
	assertTotalInvariant(t, res.Cart)
}

func TestUpdateQuantity_TransientFailureDegrades(t *testing.T) {
	remote := newFakeRemote()
	remote.cart.Items = []domain.CartItem{{ItemID: "101", ProductID: "p1", Quantity: 2, UnitPrice: 100}}
	remote.cart.Recompute()
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())
	_, err := e.Initialize(context.Background())
	require.NoError(t, err)

	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("status 503"))
	res, err := e.UpdateQuantity(context.Background(), "101", 9)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, 9, res.Cart.Items[0].Quantity)
	assert.Equal(t, domain.SourceLocalFallback, res.Cart.Source)
	require.NotNil(t, local.stored())
}

func TestUpdateQuantity_LocalOnlyItemSkipsRemote(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("boom"))
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	res, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1, UnitPrice: 100})
	require.NoError(t, err)
	localID := res.Cart.Items[0].ItemID
	require.True(t, res.Cart.Items[0].IsLocal())

	remote.failWith = nil
	updated, err := e.UpdateQuantity(context.Background(), localID, 4)
	require.NoError(t, err)
	assert.True(t, updated.Fallback)
	assert.Equal(t, 4, updated.Cart.Items[0].Quantity)
	assert.Equal(t, 0, remote.callCount("update"))
}

func TestRemoveItem_Idempotent(t *testing.T) {
	remote := newFakeRemote()
	remote.cart.Items = []domain.CartItem{{ItemID: "101", ProductID: "p1", Quantity: 1, UnitPrice: 100}}
	remote.cart.Recompute()
	e := newTestEngine(remote, &fakeLocal{}, authSession())
	_, err := e.Initialize(context.Background())
	require.NoError(t, err)

	first, err := e.RemoveItem(context.Background(), "101")
	require.NoError(t, err)
	second, err := e.RemoveItem(context.Background(), "101")
	require.NoError(t, err)

	assert.Equal(t, first.Cart.Items, second.Cart.Items)
	assert.Empty(t, second.Cart.Items)
}

func TestRemoveItem_AbsentIDIsNoOp(t *testing.T) {
	remote := newFakeRemote()
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	res, err := e.RemoveItem(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, res.Cart.Items)
}

func TestRemoveItem_TransientFailureDegrades(t *testing.T) {
	remote := newFakeRemote()
	remote.cart.Items = []domain.CartItem{
		{ItemID: "101", ProductID: "p1", Quantity: 1, UnitPrice: 100},
		{ItemID: "102", ProductID: "p2", Quantity: 2, UnitPrice: 50},
	}
	remote.cart.Recompute()
	e := newTestEngine(remote, &fakeLocal{}, authSession())
	_, err := e.Initialize(context.Background())
	require.NoError(t, err)

	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("boom"))
	res, err := e.RemoveItem(context.Background(), "101")
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	require.Len(t, res.Cart.Items, 1)
	assert.Equal(t, "102", res.Cart.Items[0].ItemID)
	assertTotalInvariant(t, res.Cart)
}

// ----------------------------------------------------------------------------
// Clear
// ----------------------------------------------------------------------------

func TestClear_SucceedsUnderServerError(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("status 500"))
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())

	// Build a non-empty fallback cart first.
	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 2, UnitPrice: 400})
	require.NoError(t, err)

	res, err := e.Clear(context.Background())
	require.NoError(t, err, "clear always succeeds from the caller's view")
	assert.Empty(t, res.Cart.Items)

	totals := e.Totals()
	assert.Equal(t, 0, totals.ItemCount)
	assert.Equal(t, int64(0), totals.Total)
	assert.Nil(t, local.stored())
}

func TestClear_RemoteAlreadyEmptyIsSuccess(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = &apperrors.AppError{
		Code: "NOT_FOUND", Message: "cart is empty", Status: 404, Err: apperrors.ErrNotFound,
	}
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	res, err := e.Clear(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	assert.Empty(t, res.Cart.Items)
}

func TestClear_Anonymous(t *testing.T) {
	remote := newFakeRemote()
	local := &fakeLocal{snapshot: &domain.Cart{
		Items: []domain.CartItem{{ItemID: "local-1", ProductID: "p1", Quantity: 1, UnitPrice: 100}},
	}}
	e := newTestEngine(remote, local, &fakeSession{})
	_, err := e.Initialize(context.Background())
	require.NoError(t, err)

	res, err := e.Clear(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Cart.Items)
	assert.Nil(t, local.stored())
	assert.Equal(t, 0, remote.callCount("clear"))
}

// ----------------------------------------------------------------------------
// Checkout
// ----------------------------------------------------------------------------

func TestCheckout_EmptyCartGuard(t *testing.T) {
	e := newTestEngine(newFakeRemote(), &fakeLocal{}, authSession())

	_, err := e.Checkout(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrEmptyCart)
	assert.Empty(t, e.Snapshot().Items)
}

func TestCheckout_RequiresAuthentication(t *testing.T) {
	local := &fakeLocal{snapshot: &domain.Cart{
		Items: []domain.CartItem{{ItemID: "local-1", ProductID: "p1", Quantity: 1, UnitPrice: 100}},
	}}
	e := newTestEngine(newFakeRemote(), local, &fakeSession{})
	_, err := e.Initialize(context.Background())
	require.NoError(t, err)

	_, err = e.Checkout(context.Background(), nil)
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
}

func TestCheckout_InsufficientStockListsOffenders(t *testing.T) {
	remote := newFakeRemote()
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 5})
	require.NoError(t, err)
	_, err = e.AddItem(context.Background(), AddItemInput{ProductID: "p2", Quantity: 2})
	require.NoError(t, err)

	_, err = e.Checkout(context.Background(), map[string]int{"p1": 3, "p2": 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"p1"}, appErr.Items)

	// Guard failure leaves the cart untouched.
	assert.Len(t, e.Snapshot().Items, 2)
	assert.Equal(t, 0, remote.callCount("checkout"))
}

func TestCheckout_SuccessResetsCartAndSnapshot(t *testing.T) {
	remote := newFakeRemote()
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)

	receipt, err := e.Checkout(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ord-1", receipt.OrderID)
	assert.Equal(t, int64(2000), receipt.Total)

	assert.Empty(t, e.Snapshot().Items)
	assert.Nil(t, local.stored())
}

func TestCheckout_FailureSurfacesVerbatimWithoutDegrade(t *testing.T) {
	remote := newFakeRemote()
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("status 502"))
	_, err = e.Checkout(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))

	// Checkout never degrades: the cart is unchanged and nothing was
	// persisted as a fallback write.
	assert.Len(t, e.Snapshot().Items, 1)
	assert.Equal(t, 1, remote.callCount("checkout"))
}

// ----------------------------------------------------------------------------
// Totals / scenario
// ----------------------------------------------------------------------------

func TestHappyPath_TotalsAfterMergedAdds(t *testing.T) {
	remote := newFakeRemote()
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	_, err := e.Initialize(context.Background())
	require.NoError(t, err)
	_, err = e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)
	res, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)

	require.Len(t, res.Cart.Items, 1, "adds for the same product merge into one item")

	totals := e.Totals()
	assert.Equal(t, 3, totals.ItemCount)
	assert.Equal(t, int64(3000), totals.Total)
}

// ----------------------------------------------------------------------------
// Reconciliation
// ----------------------------------------------------------------------------

func TestReconciliation_InitializeAdoptsRemoteAfterFallback(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("boom"))
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())

	// Build fallback state for p1 with a local id.
	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 2, UnitPrice: 100})
	require.NoError(t, err)

	// Backend recovers holding p1 under a remote id.
	remote.failWith = nil
	remote.cart.Items = []domain.CartItem{{ItemID: "555", ProductID: "p1", Quantity: 4, UnitPrice: 100}}
	remote.cart.Recompute()

	res, err := e.Initialize(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Fallback)
	require.Len(t, res.Cart.Items, 1, "no duplicate entries for the same product")
	assert.Equal(t, "555", res.Cart.Items[0].ItemID)
	assert.Equal(t, 4, res.Cart.Items[0].Quantity)
	assert.Nil(t, local.stored(), "local-only state is discarded after adopting remote")
}

// ----------------------------------------------------------------------------
// Session epoch
// ----------------------------------------------------------------------------

func TestAddItem_StaleSessionDiscardsInFlightResult(t *testing.T) {
	session := authSession()
	remote := newFakeRemote()
	remote.onCall = func(op string) {
		if op == "add" {
			session.bump() // logout happens while the call is in flight
		}
	}
	e := newTestEngine(remote, &fakeLocal{}, session)

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1})
	assert.ErrorIs(t, err, apperrors.ErrStaleSession)
	assert.Empty(t, e.Snapshot().Items, "discarded result must not repopulate the cart")
}

func TestInitialize_StaleSessionDiscardsFetch(t *testing.T) {
	session := authSession()
	remote := newFakeRemote()
	remote.cart.Items = []domain.CartItem{{ItemID: "101", ProductID: "p1", Quantity: 1, UnitPrice: 100}}
	remote.cart.Recompute()
	remote.onCall = func(op string) { session.bump() }
	e := newTestEngine(remote, &fakeLocal{}, session)

	_, err := e.Initialize(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrStaleSession)
	assert.Empty(t, e.Snapshot().Items)
}

// ----------------------------------------------------------------------------
// Snapshot / Subscribe / concurrency
// ----------------------------------------------------------------------------

func TestSnapshot_CallersCannotMutateEngineState(t *testing.T) {
	remote := newFakeRemote()
	e := newTestEngine(remote, &fakeLocal{}, authSession())
	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	snap := e.Snapshot()
	snap.Items[0].Quantity = 999
	snap.Items = nil

	fresh := e.Snapshot()
	require.Len(t, fresh.Items, 1)
	assert.Equal(t, 1, fresh.Items[0].Quantity)
}

func TestSubscribe_ReceivesChangeNotifications(t *testing.T) {
	remote := newFakeRemote()
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	ch, cancel := e.Subscribe()
	defer cancel()

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 2})
	require.NoError(t, err)

	select {
	case cart := <-ch:
		require.Len(t, cart.Items, 1)
		assert.Equal(t, 2, cart.Items[0].Quantity)
	case <-time.After(time.Second):
		t.Fatal("no notification received")
	}
}

func TestSubscribe_SlowConsumerSeesLatestState(t *testing.T) {
	remote := newFakeRemote()
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	ch, cancel := e.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1})
		require.NoError(t, err)
	}

	// The buffered channel coalesces; the last delivered snapshot is the
	// newest one.
	var last *domain.Cart
	for {
		select {
		case cart := <-ch:
			last = cart
			continue
		case <-time.After(50 * time.Millisecond):
		}
		break
	}
	require.NotNil(t, last)
	assert.Equal(t, 5, last.Items[0].Quantity)
}

func TestSubscribe_CancelStopsDelivery(t *testing.T) {
	e := newTestEngine(newFakeRemote(), &fakeLocal{}, authSession())

	ch, cancel := e.Subscribe()
	cancel()

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1})
	require.NoError(t, err)

	_, open := <-ch
	assert.False(t, open, "channel must be closed after cancel")
}

func TestConcurrentAdds_NoLostUpdate(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("boom"))
	e := newTestEngine(remote, &fakeLocal{}, authSession())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1, UnitPrice: 10})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cart := e.Snapshot()
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 20, cart.Items[0].Quantity)
	assertTotalInvariant(t, cart)
}

func TestReset_EmptiesCartAndSnapshot(t *testing.T) {
	remote := newFakeRemote()
	remote.failWith = apperrors.TransientBackendFailure(fmt.Errorf("boom"))
	local := &fakeLocal{}
	e := newTestEngine(remote, local, authSession())

	_, err := e.AddItem(context.Background(), AddItemInput{ProductID: "p1", Quantity: 1, UnitPrice: 100})
	require.NoError(t, err)
	require.NotNil(t, local.stored())

	e.Reset(context.Background())
	assert.Empty(t, e.Snapshot().Items)
	assert.Nil(t, local.stored())
}
