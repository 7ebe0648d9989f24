package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrCartNotFound            = domain.NewError(domain.KindNotFound, "cart not found")
	ErrCartItemNotFound        = domain.NewError(domain.KindNotFound, "cart item not found")
	ErrCartAlreadyExists       = domain.NewError(domain.KindConflict, "cart already exists for user")
	ErrCartItemAlreadyExists   = domain.NewError(domain.KindConflict, "product is already in the cart")
	ErrCartItemVersionConflict = domain.NewError(domain.KindConflict, "cart item was modified concurrently")
)

// CartRepository defines the interface for cart data access
type CartRepository interface {
	// FindByUser loads the user's cart. With includeItems the lines are
	// loaded too, each carrying its product.
	FindByUser(ctx context.Context, userID uuid.UUID, includeItems bool) (*domain.Cart, error)
	Create(ctx context.Context, cart *domain.Cart) error
	AddItem(ctx context.Context, item *domain.CartItem) error
	// UpdateItem writes quantity and amount only if the stored version still
	// equals item.Version, then bumps item.Version.
	UpdateItem(ctx context.Context, item *domain.CartItem) error
	DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (bool, error)
	ClearItems(ctx context.Context, cartID uuid.UUID) (int64, error)
}

type cartRepository struct {
	db *sql.DB
}

// NewCartRepository creates a new instance of CartRepository
func NewCartRepository(db *sql.DB) CartRepository {
	return &cartRepository{db: db}
}

// FindByUser retrieves a cart by its owner using parameterized queries
func (r *cartRepository) FindByUser(ctx context.Context, userID uuid.UUID, includeItems bool) (*domain.Cart, error) {
	query := `
		SELECT id, user_id, created_at, updated_at
		FROM carts
		WHERE user_id = $1
	`

	cart := &domain.Cart{Items: []domain.CartItem{}}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&cart.ID,
		&cart.UserID,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to find cart by user: %w", err)
	}

	if !includeItems {
		return cart, nil
	}

	items, err := r.findItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	cart.Items = items

	return cart, nil
}

func (r *cartRepository) findItems(ctx context.Context, cartID uuid.UUID) ([]domain.CartItem, error) {
	query := `
		SELECT ci.id, ci.cart_id, ci.product_id, ci.quantity, ci.amount, ci.version,
		       ci.created_at, ci.updated_at,
		       p.id, p.name, p.description, p.price, p.discount, p.category_id,
		       p.image_url, p.stock, p.created_at, p.updated_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at ASC, ci.id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart items: %w", err)
	}
	defer rows.Close()

	items := []domain.CartItem{}
	for rows.Next() {
		var item domain.CartItem
		product := &domain.Product{}
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.ProductID,
			&item.Quantity,
			&item.Amount,
			&item.Version,
			&item.CreatedAt,
			&item.UpdatedAt,
			&product.ID,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.Discount,
			&product.CategoryID,
			&product.ImageURL,
			&product.Stock,
			&product.CreatedAt,
			&product.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		item.Product = product
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cart items: %w", err)
	}

	return items, nil
}

// Create inserts a new, empty cart. A concurrent create for the same user
// surfaces as ErrCartAlreadyExists.
func (r *cartRepository) Create(ctx context.Context, cart *domain.Cart) error {
	query := `
		INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, cart.ID, cart.UserID, cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		if uniqueViolationOn(err, "carts_user_id_key") {
			return ErrCartAlreadyExists
		}
		return fmt.Errorf("failed to create cart: %w", err)
	}

	return nil
}

// AddItem inserts a new line. A line for the same product inserted
// concurrently surfaces as ErrCartItemAlreadyExists.
func (r *cartRepository) AddItem(ctx context.Context, item *domain.CartItem) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO cart_items (id, cart_id, product_id, quantity, amount, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`

		_, err := tx.ExecContext(
			ctx,
			query,
			item.ID,
			item.CartID,
			item.ProductID,
			item.Quantity,
			item.Amount,
			item.Version,
			item.CreatedAt,
			item.UpdatedAt,
		)
		if err != nil {
			if uniqueViolationOn(err, "cart_items_cart_product_key") {
				return ErrCartItemAlreadyExists
			}
			if foreignKeyViolationOn(err, "") {
				return ErrCartNotFound
			}
			return fmt.Errorf("failed to add cart item: %w", err)
		}

		return touchCart(ctx, tx, item.CartID, item.UpdatedAt)
	})
}

// UpdateItem updates quantity and amount of a line under optimistic concurrency
func (r *cartRepository) UpdateItem(ctx context.Context, item *domain.CartItem) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			UPDATE cart_items
			SET quantity = $3, amount = $4, version = version + 1, updated_at = $5
			WHERE id = $1 AND version = $2
		`

		result, err := tx.ExecContext(ctx, query, item.ID, item.Version, item.Quantity, item.Amount, item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to update cart item: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return ErrCartItemVersionConflict
		}

		return touchCart(ctx, tx, item.CartID, item.UpdatedAt)
	})
	if err != nil {
		return err
	}

	item.Version++
	return nil
}

// DeleteItem removes the line for productID; false when there was none.
func (r *cartRepository) DeleteItem(ctx context.Context, cartID, productID uuid.UUID) (bool, error) {
	var deleted bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

		result, err := tx.ExecContext(ctx, query, cartID, productID)
		if err != nil {
			return fmt.Errorf("failed to delete cart item: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		deleted = rowsAffected > 0
		if !deleted {
			return nil
		}
		return touchCart(ctx, tx, cartID, time.Now().UTC())
	})

	return deleted, err
}

// ClearItems removes every line of the cart and reports how many were removed.
func (r *cartRepository) ClearItems(ctx context.Context, cartID uuid.UUID) (int64, error) {
	var removed int64
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
		if err != nil {
			return fmt.Errorf("failed to clear cart items: %w", err)
		}

		removed, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if removed == 0 {
			return nil
		}
		return touchCart(ctx, tx, cartID, time.Now().UTC())
	})

	return removed, err
}

func touchCart(ctx context.Context, tx *sql.Tx, cartID uuid.UUID, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = $2 WHERE id = $1`, cartID, at)
	if err != nil {
		return fmt.Errorf("failed to touch cart: %w", err)
	}
	return nil
}
