package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// CartService manages the per-user shopping cart.
//
// Reads go through the cart cache. Mutations write the store first, then
// delete the cache entry; the cache is never written with a mutated value.
type CartService interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error)
	UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (bool, error)
	ClearCart(ctx context.Context, userID uuid.UUID) (bool, error)
}

// AddItemBackoff is the retry policy for AddItem when a concurrent writer
// wins the race on the same cart: three attempts in total.
func AddItemBackoff() retry.Backoff {
	return retry.WithMaxRetries(2, retry.NewExponential(20*time.Millisecond))
}

type cartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	cache    *cache.ReadThrough[*domain.Cart]
	clock    Clock
	backoff  func() retry.Backoff
	logger   *zap.Logger
}

// NewCartService creates a new instance of CartService
func NewCartService(
	carts repository.CartRepository,
	products repository.ProductRepository,
	cartCache *cache.ReadThrough[*domain.Cart],
	clock Clock,
	backoff func() retry.Backoff,
	logger *zap.Logger,
) CartService {
	return &cartService{
		carts:    carts,
		products: products,
		cache:    cartCache,
		clock:    clock,
		backoff:  backoff,
		logger:   logger.Named("cart"),
	}
}

// NewCartCache builds the read-through cache for carts. Unsaved empty carts
// are never stored.
func NewCartCache(c cache.Cache, ttl time.Duration, logger *zap.Logger) *cache.ReadThrough[*domain.Cart] {
	return cache.NewReadThrough(c, ttl, logger.Named("cart-cache"),
		cache.WithCacheIf(func(cart *domain.Cart) bool { return cart.ID != uuid.Nil }),
	)
}

// GetCart returns the user's cart with its lines. A user who never added
// anything gets an empty cart with no ID.
func (s *cartService) GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	cart, err := s.cache.Get(ctx, cache.CartKey(userID), func(ctx context.Context) (*domain.Cart, error) {
		cart, err := s.carts.FindByUser(ctx, userID, true)
		if errors.Is(err, repository.ErrCartNotFound) {
			return domain.EmptyCart(userID), nil
		}
		return cart, err
	})
	if err != nil {
		return nil, s.storeError(err, userID, "get")
	}
	return cart, nil
}

// AddItem adds quantity of a product to the cart, creating the cart on first
// use and merging into an existing line for the same product.
func (s *cartService) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error) {
	if err := domain.CheckQuantity(quantity); err != nil {
		return nil, err
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, s.storeError(err, productID, "add_item")
	}

	var item *domain.CartItem
	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		var err error
		item, err = s.addItem(ctx, userID, product, quantity)
		if domain.KindOf(err) == domain.KindConflict {
			s.logger.Debug("Retrying add to cart after concurrent write",
				zap.String("user_id", userID.String()),
				zap.String("product_id", productID.String()),
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, s.storeError(err, userID, "add_item")
	}

	s.cache.Invalidate(ctx, cache.CartKey(userID))
	return item, nil
}

func (s *cartService) addItem(ctx context.Context, userID uuid.UUID, product *domain.Product, quantity int) (*domain.CartItem, error) {
	now := s.clock.Now()

	cart, err := s.carts.FindByUser(ctx, userID, true)
	switch {
	case errors.Is(err, repository.ErrCartNotFound):
		cart = domain.NewCart(userID, now)
		if err := s.carts.Create(ctx, cart); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	if existing := cart.FindItem(product.ID); existing != nil {
		merged := existing.Quantity + quantity
		if err := domain.CheckQuantity(merged); err != nil {
			return nil, err
		}
		item := *existing
		item.Reprice(merged, product.Price, now)
		item.Product = product
		if err := s.carts.UpdateItem(ctx, &item); err != nil {
			return nil, err
		}
		return &item, nil
	}

	item := domain.NewCartItem(cart.ID, product, quantity, now)
	if err := s.carts.AddItem(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem sets the quantity of an existing line. A quantity of zero or
// less removes the line and returns it as it was before removal.
func (s *cartService) UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error) {
	if quantity > domain.MaxLineQuantity {
		return nil, domain.ErrInvalidQuantity
	}

	cart, err := s.carts.FindByUser(ctx, userID, true)
	if err != nil {
		return nil, s.storeError(err, userID, "update_item")
	}

	existing := cart.FindItem(productID)
	if existing == nil {
		return nil, repository.ErrCartItemNotFound
	}
	item := *existing

	if quantity <= 0 {
		if _, err := s.carts.DeleteItem(ctx, cart.ID, productID); err != nil {
			return nil, s.storeError(err, userID, "update_item")
		}
		s.cache.Invalidate(ctx, cache.CartKey(userID))
		return &item, nil
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, s.storeError(err, productID, "update_item")
	}

	item.Reprice(quantity, product.Price, s.clock.Now())
	item.Product = product
	if err := s.carts.UpdateItem(ctx, &item); err != nil {
		return nil, s.storeError(err, userID, "update_item")
	}

	s.cache.Invalidate(ctx, cache.CartKey(userID))
	return &item, nil
}

// RemoveItem deletes the line for productID. It reports false, without
// error, when there was no cart or no such line.
func (s *cartService) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (bool, error) {
	cart, err := s.carts.FindByUser(ctx, userID, false)
	if err != nil {
		if errors.Is(err, repository.ErrCartNotFound) {
			return false, nil
		}
		return false, s.storeError(err, userID, "remove_item")
	}

	removed, err := s.carts.DeleteItem(ctx, cart.ID, productID)
	if err != nil {
		return false, s.storeError(err, userID, "remove_item")
	}
	if !removed {
		return false, nil
	}

	s.cache.Invalidate(ctx, cache.CartKey(userID))
	return true, nil
}

// ClearCart removes every line from the cart. It reports false when the cart
// is missing or already empty.
func (s *cartService) ClearCart(ctx context.Context, userID uuid.UUID) (bool, error) {
	cart, err := s.carts.FindByUser(ctx, userID, false)
	if err != nil {
		if errors.Is(err, repository.ErrCartNotFound) {
			return false, nil
		}
		return false, s.storeError(err, userID, "clear")
	}

	removed, err := s.carts.ClearItems(ctx, cart.ID)
	if err != nil {
		return false, s.storeError(err, userID, "clear")
	}
	if removed == 0 {
		return false, nil
	}

	s.cache.Invalidate(ctx, cache.CartKey(userID))
	return true, nil
}

// storeError passes classified errors through and logs and wraps the rest.
func (s *cartService) storeError(err error, id uuid.UUID, operation string) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}

	s.logger.Error("Cart operation failed",
		zap.String("entity", "cart"),
		zap.String("id", id.String()),
		zap.String("operation", operation),
		zap.Error(err),
	)
	return fmt.Errorf("failed to %s cart: %w", operation, err)
}
