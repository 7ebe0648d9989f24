package repository

import (
	"context"
	"testing"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCart(t *testing.T, userID uuid.UUID) *domain.Cart {
	t.Helper()

	cart := domain.NewCart(userID, now())
	require.NoError(t, NewCartRepository(testDB).Create(context.Background(), cart))
	return cart
}

func TestCartRepository_FindByUser(t *testing.T) {
	requireDB(t)
	repo := NewCartRepository(testDB)
	ctx := context.Background()

	user := seedUser(t)
	_, err := repo.FindByUser(ctx, user.ID, true)
	assert.ErrorIs(t, err, ErrCartNotFound)

	cart := seedCart(t, user.ID)
	category := seedCategory(t)
	product := seedProduct(t, category.ID, "19.99")
	require.NoError(t, repo.AddItem(ctx, domain.NewCartItem(cart.ID, product, 2, now())))

	shallow, err := repo.FindByUser(ctx, user.ID, false)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, shallow.ID)
	assert.Empty(t, shallow.Items)

	loaded, err := repo.FindByUser(ctx, user.ID, true)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	item := loaded.Items[0]
	assert.Equal(t, 2, item.Quantity)
	assert.True(t, decimal.RequireFromString("39.98").Equal(item.Amount), item.Amount.String())
	require.NotNil(t, item.Product)
	assert.Equal(t, product.Name, item.Product.Name)
	assert.True(t, product.Price.Equal(item.Product.Price))
}

func TestCartRepository_OneCartPerUser(t *testing.T) {
	requireDB(t)
	repo := NewCartRepository(testDB)

	user := seedUser(t)
	seedCart(t, user.ID)

	err := repo.Create(context.Background(), domain.NewCart(user.ID, now()))
	assert.ErrorIs(t, err, ErrCartAlreadyExists)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCartRepository_DuplicateLineIsConflict(t *testing.T) {
	requireDB(t)
	repo := NewCartRepository(testDB)
	ctx := context.Background()

	cart := seedCart(t, seedUser(t).ID)
	product := seedProduct(t, seedCategory(t).ID, "5.00")

	require.NoError(t, repo.AddItem(ctx, domain.NewCartItem(cart.ID, product, 1, now())))
	err := repo.AddItem(ctx, domain.NewCartItem(cart.ID, product, 1, now()))
	assert.ErrorIs(t, err, ErrCartItemAlreadyExists)
}

func TestCartRepository_UpdateItemChecksVersion(t *testing.T) {
	requireDB(t)
	repo := NewCartRepository(testDB)
	ctx := context.Background()

	user := seedUser(t)
	cart := seedCart(t, user.ID)
	product := seedProduct(t, seedCategory(t).ID, "19.99")

	item := domain.NewCartItem(cart.ID, product, 2, now())
	require.NoError(t, repo.AddItem(ctx, item))

	stale := *item

	item.Reprice(5, product.Price, now())
	require.NoError(t, repo.UpdateItem(ctx, item))
	assert.Equal(t, 2, item.Version)

	stale.Reprice(3, product.Price, now())
	assert.ErrorIs(t, repo.UpdateItem(ctx, &stale), ErrCartItemVersionConflict)

	loaded, err := repo.FindByUser(ctx, user.ID, true)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, 5, loaded.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("99.95").Equal(loaded.Items[0].Amount))
	assert.Equal(t, 2, loaded.Items[0].Version)
}

func TestCartRepository_DeleteAndClear(t *testing.T) {
	requireDB(t)
	repo := NewCartRepository(testDB)
	ctx := context.Background()

	user := seedUser(t)
	cart := seedCart(t, user.ID)
	category := seedCategory(t)
	first := seedProduct(t, category.ID, "1.00")
	second := seedProduct(t, category.ID, "2.00")
	require.NoError(t, repo.AddItem(ctx, domain.NewCartItem(cart.ID, first, 1, now())))
	require.NoError(t, repo.AddItem(ctx, domain.NewCartItem(cart.ID, second, 1, now())))

	deleted, err := repo.DeleteItem(ctx, cart.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.DeleteItem(ctx, cart.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	removed, err := repo.ClearItems(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = repo.ClearItems(ctx, cart.ID)
	require.NoError(t, err)
	assert.Zero(t, removed)

	loaded, err := repo.FindByUser(ctx, user.ID, true)
	require.NoError(t, err, "clearing keeps the cart")
	assert.Empty(t, loaded.Items)
}

func TestCartRepository_DeletingProductRemovesLines(t *testing.T) {
	requireDB(t)
	repo := NewCartRepository(testDB)
	ctx := context.Background()

	user := seedUser(t)
	other := seedUser(t)
	bystander := seedUser(t)
	product := seedProduct(t, seedCategory(t).ID, "3.00")
	kept := seedProduct(t, seedCategory(t).ID, "1.00")

	require.NoError(t, repo.AddItem(ctx, domain.NewCartItem(seedCart(t, user.ID).ID, product, 1, now())))
	require.NoError(t, repo.AddItem(ctx, domain.NewCartItem(seedCart(t, other.ID).ID, product, 3, now())))
	require.NoError(t, repo.AddItem(ctx, domain.NewCartItem(seedCart(t, bystander.ID).ID, kept, 1, now())))

	owners, err := NewProductRepository(testDB).Delete(ctx, product.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{user.ID, other.ID}, owners)

	loaded, err := repo.FindByUser(ctx, user.ID, true)
	require.NoError(t, err)
	assert.Empty(t, loaded.Items)

	loaded, err = repo.FindByUser(ctx, bystander.ID, true)
	require.NoError(t, err)
	assert.Len(t, loaded.Items, 1)
}
