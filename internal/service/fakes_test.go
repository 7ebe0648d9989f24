package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// fakeClock is a settable clock for tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupTestCache starts miniredis and returns a cache over it.
func setupTestCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return cache.NewRedisCache(client), mr
}

// brokenCache fails every call, like an unreachable Redis.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Delete(context.Context, ...string) error {
	return errors.New("connection refused")
}

func fastBackoff() retry.Backoff {
	return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
}

// Mock repositories for testing

type mockUserRepository struct {
	mu    sync.Mutex
	users map[uuid.UUID]*domain.User
	finds atomic.Int32
}

func newMockUserRepository() *mockUserRepository {
	return &mockUserRepository{users: make(map[uuid.UUID]*domain.User)}
}

func (m *mockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Username == user.Username {
			return repository.ErrUsernameTaken
		}
		if existing.Email == user.Email {
			return repository.ErrEmailTaken
		}
	}
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *mockUserRepository) find(match func(*domain.User) bool) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finds.Add(1)
	for _, user := range m.users {
		if match(user) {
			found := *user
			return &found, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (m *mockUserRepository) FindByUsername(ctx context.Context, username string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Username == username })
}

func (m *mockUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.Email == email })
}

func (m *mockUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return m.find(func(u *domain.User) bool { return u.ID == id })
}

func (m *mockUserRepository) List(ctx context.Context, page, pageSize int) ([]*domain.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*domain.User, 0, len(m.users))
	for _, user := range m.users {
		u := *user
		all = append(all, &u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Username < all[j].Username })

	start := min((page-1)*pageSize, len(all))
	end := min(start+pageSize, len(all))
	return all[start:end], len(all), nil
}

func (m *mockUserRepository) Update(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	for id, existing := range m.users {
		if id != user.ID && existing.Email == user.Email {
			return repository.ErrEmailTaken
		}
	}
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *mockUserRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[id]; !ok {
		return false, nil
	}
	delete(m.users, id)
	return true, nil
}

type mockRefreshTokenRepository struct {
	mu        sync.Mutex
	tokens    map[string]*domain.RefreshToken
	rotations int
	// rotateErr makes Rotate fail as a rolled back transaction would.
	rotateErr error
}

func newMockRefreshTokenRepository() *mockRefreshTokenRepository {
	return &mockRefreshTokenRepository{tokens: make(map[string]*domain.RefreshToken)}
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, token *domain.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *token
	m.tokens[token.Token] = &stored
	return nil
}

func (m *mockRefreshTokenRepository) FindByToken(ctx context.Context, token string) (*domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tokens[token]
	if !ok {
		return nil, repository.ErrRefreshTokenNotFound
	}
	found := *stored
	return &found, nil
}

func (m *mockRefreshTokenRepository) Rotate(ctx context.Context, consumedID uuid.UUID, next *domain.RefreshToken, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rotations++
	if m.rotateErr != nil {
		return m.rotateErr
	}

	for _, stored := range m.tokens {
		if stored.ID == consumedID {
			if err := stored.Consume(now); err != nil {
				return err
			}
			successor := *next
			m.tokens[next.Token] = &successor
			return nil
		}
	}
	return domain.ErrTokenNotActive
}

func (m *mockRefreshTokenRepository) Rotations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotations
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, token, reason string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tokens[token]
	if !ok {
		return false, nil
	}
	return stored.Revoke(now, reason) == nil, nil
}

func (m *mockRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, stored := range m.tokens {
		if stored.UserID == userID && !stored.Revoked {
			stored.Revoked = true
			stored.RevokedReason = reason
			revokedAt := now
			stored.RevokedAt = &revokedAt
			count++
		}
	}
	return count, nil
}

type mockCategoryRepository struct {
	mu         sync.Mutex
	categories map[uuid.UUID]*domain.Category
	// products backs the in-use check of Delete.
	products *mockProductRepository
}

func newMockCategoryRepository(products *mockProductRepository) *mockCategoryRepository {
	return &mockCategoryRepository{categories: make(map[uuid.UUID]*domain.Category), products: products}
}

func (m *mockCategoryRepository) Create(ctx context.Context, category *domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.categories {
		if existing.Name == category.Name {
			return repository.ErrCategoryAlreadyExists
		}
	}
	stored := *category
	m.categories[category.ID] = &stored
	return nil
}

func (m *mockCategoryRepository) Update(ctx context.Context, category *domain.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.categories[category.ID]; !ok {
		return repository.ErrCategoryNotFound
	}
	for id, existing := range m.categories {
		if id != category.ID && existing.Name == category.Name {
			return repository.ErrCategoryAlreadyExists
		}
	}
	stored := *category
	m.categories[category.ID] = &stored
	return nil
}

func (m *mockCategoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.categories[id]; !ok {
		return repository.ErrCategoryNotFound
	}
	if m.products != nil && m.products.inCategory(id) {
		return repository.ErrCategoryInUse
	}
	delete(m.categories, id)
	return nil
}

func (m *mockCategoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	categories := []*domain.Category{}
	for _, category := range m.categories {
		c := *category
		categories = append(categories, &c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i].Name < categories[j].Name })
	return categories, nil
}

func (m *mockCategoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	category, ok := m.categories[id]
	if !ok {
		return nil, repository.ErrCategoryNotFound
	}
	c := *category
	return &c, nil
}

type mockProductRepository struct {
	mu       sync.Mutex
	products map[uuid.UUID]*domain.Product
	finds    atomic.Int32
	// cartOwners lists, per product, the users whose carts hold it.
	cartOwners map[uuid.UUID][]uuid.UUID
}

func newMockProductRepository() *mockProductRepository {
	return &mockProductRepository{
		products:   make(map[uuid.UUID]*domain.Product),
		cartOwners: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (m *mockProductRepository) inCategory(categoryID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, product := range m.products {
		if product.CategoryID == categoryID {
			return true
		}
	}
	return false
}

func (m *mockProductRepository) seed(price string) *domain.Product {
	product := &domain.Product{
		ID:         uuid.New(),
		Name:       "Product " + uuid.NewString()[:8],
		Price:      decimal.RequireFromString(price),
		CategoryID: uuid.New(),
		Stock:      10,
	}
	m.mu.Lock()
	m.products[product.ID] = product
	m.mu.Unlock()
	return product
}

func (m *mockProductRepository) setPrice(id uuid.UUID, price string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id].Price = decimal.RequireFromString(price)
}

func (m *mockProductRepository) Create(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *product
	m.products[product.ID] = &stored
	return nil
}

func (m *mockProductRepository) Update(ctx context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[product.ID]; !ok {
		return repository.ErrProductNotFound
	}
	stored := *product
	m.products[product.ID] = &stored
	return nil
}

func (m *mockProductRepository) Delete(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[id]; !ok {
		return nil, repository.ErrProductNotFound
	}
	delete(m.products, id)
	owners := m.cartOwners[id]
	delete(m.cartOwners, id)
	return owners, nil
}

func (m *mockProductRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.finds.Add(1)
	product, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	p := *product
	return &p, nil
}

func (m *mockProductRepository) List(ctx context.Context, filter repository.ProductFilter) ([]*domain.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := []*domain.Product{}
	for _, product := range m.products {
		if filter.CategoryID == nil || product.CategoryID == *filter.CategoryID {
			p := *product
			products = append(products, &p)
		}
	}
	return products, len(products), nil
}

func (m *mockProductRepository) Search(ctx context.Context, query string, page, pageSize int) ([]*domain.Product, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := []*domain.Product{}
	for _, product := range m.products {
		if strings.Contains(strings.ToLower(product.Name), strings.ToLower(query)) {
			p := *product
			products = append(products, &p)
		}
	}
	return products, len(products), nil
}

// mockCartRepository mirrors the store's constraints: one cart per user, one
// line per product, versioned line updates.
type mockCartRepository struct {
	mu    sync.Mutex
	carts map[uuid.UUID]*domain.Cart // by user

	// afterFind, when set, runs after a FindByUser snapshot is taken.
	afterFind func()
	// failUpdates makes the next n UpdateItem calls lose the version race.
	failUpdates int
}

func newMockCartRepository() *mockCartRepository {
	return &mockCartRepository{carts: make(map[uuid.UUID]*domain.Cart)}
}

func (m *mockCartRepository) FindByUser(ctx context.Context, userID uuid.UUID, includeItems bool) (*domain.Cart, error) {
	m.mu.Lock()
	cart, ok := m.carts[userID]
	var snapshot domain.Cart
	if ok {
		snapshot = *cart
		snapshot.Items = []domain.CartItem{}
		if includeItems {
			snapshot.Items = append(snapshot.Items, cart.Items...)
		}
	}
	hook := m.afterFind
	m.afterFind = nil
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return &snapshot, nil
}

func (m *mockCartRepository) cartByID(cartID uuid.UUID) *domain.Cart {
	for _, cart := range m.carts {
		if cart.ID == cartID {
			return cart
		}
	}
	return nil
}

func (m *mockCartRepository) Create(ctx context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.carts[cart.UserID]; ok {
		return repository.ErrCartAlreadyExists
	}
	stored := *cart
	stored.Items = []domain.CartItem{}
	m.carts[cart.UserID] = &stored
	return nil
}

func (m *mockCartRepository) AddItem(ctx context.Context, item *domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart := m.cartByID(item.CartID)
	if cart == nil {
		return repository.ErrCartNotFound
	}
	if cart.FindItem(item.ProductID) != nil {
		return repository.ErrCartItemAlreadyExists
	}
	cart.Items = append(cart.Items, *item)
	return nil
}

func (m *mockCartRepository) UpdateItem(ctx context.Context, item *domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failUpdates > 0 {
		m.failUpdates--
		return repository.ErrCartItemVersionConflict
	}

	cart := m.cartByID(item.CartID)
	if cart == nil {
		return repository.ErrCartItemVersionConflict
	}
	stored := cart.FindItem(item.ProductID)
	if stored == nil || stored.ID != item.ID || stored.Version != item.Version {
		return repository.ErrCartItemVersionConflict
	}

	item.Version++
	*stored = *item
	return nil
}

func (m *mockCartRepository) DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart := m.cartByID(cartID)
	if cart == nil {
		return false, nil
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *mockCartRepository) ClearItems(ctx context.Context, cartID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cart := m.cartByID(cartID)
	if cart == nil {
		return 0, nil
	}
	removed := int64(len(cart.Items))
	cart.Items = []domain.CartItem{}
	return removed, nil
}
