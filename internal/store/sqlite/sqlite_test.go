package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/001Space/cartsync/internal/domain"
	apperrors "github.com/001Space/cartsync/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoad_NoSnapshotReturnsNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cart := &domain.Cart{
		Items: []domain.CartItem{
			{ItemID: "local-1", ProductID: "p1", Quantity: 2, UnitPrice: 1500, Name: "Mug"},
			{ItemID: "42", ProductID: "p2", Quantity: 1, UnitPrice: 900},
		},
		Source: domain.SourceLocalFallback,
	}
	cart.Recompute()
	require.NoError(t, s.Save(ctx, cart))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cart.Items, loaded.Items)
	assert.Equal(t, int64(3900), loaded.Total)
	assert.Equal(t, domain.SourceLocalFallback, loaded.Source)
}

func TestSave_ReplacesPreviousSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &domain.Cart{Items: []domain.CartItem{{ItemID: "a", ProductID: "p1", Quantity: 1, UnitPrice: 100}}}
	require.NoError(t, s.Save(ctx, first))

	second := &domain.Cart{Items: []domain.CartItem{{ItemID: "b", ProductID: "p2", Quantity: 3, UnitPrice: 200}}}
	require.NoError(t, s.Save(ctx, second))

	loaded, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, "b", loaded.Items[0].ItemID)
	assert.Equal(t, int64(600), loaded.Total)
}

func TestClear_RemovesSnapshot(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cart := &domain.Cart{Items: []domain.CartItem{{ItemID: "a", ProductID: "p1", Quantity: 1, UnitPrice: 100}}}
	require.NoError(t, s.Save(ctx, cart))
	require.NoError(t, s.Clear(ctx))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClear_AbsentSnapshotIsNoOp(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Clear(context.Background()))
}

func TestLoad_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cart.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	cart := &domain.Cart{Items: []domain.CartItem{{ItemID: "a", ProductID: "p1", Quantity: 2, UnitPrice: 250}}}
	require.NoError(t, s.Save(ctx, cart))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), loaded.Total)
}

func TestOpen_CreatesParentDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state", "cart.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
}

func TestLoad_CorruptPayloadTreatedAsAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_snapshot (id, payload, updated_at)
		VALUES (1, 'not-json', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
