package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cart is the per-user collection of pending line items.
// A user has at most one cart; it is created on the first AddItem.
type Cart struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CartItem is a (product, quantity, amount) line within a cart.
// Amount is a price snapshot taken when the line was last mutated.
type CartItem struct {
	ID        uuid.UUID       `json:"id"`
	CartID    uuid.UUID       `json:"cart_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Version   int             `json:"version"`
	Product   *Product        `json:"product,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewCart returns an unsaved cart for userID.
func NewCart(userID uuid.UUID, now time.Time) *Cart {
	return &Cart{
		ID:        uuid.New(),
		UserID:    userID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// EmptyCart is what GetCart returns for a user who never added anything.
// It has no ID and is never persisted or cached.
func EmptyCart(userID uuid.UUID) *Cart {
	return &Cart{UserID: userID, Items: []CartItem{}}
}

// LineAmount computes quantity × unit price.
func LineAmount(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity)))
}

// FindItem returns the line for productID, or nil.
func (c *Cart) FindItem(productID uuid.UUID) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// IsEmpty reports whether the cart holds no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Total sums the snapshotted amounts of every line.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Amount)
	}
	return total
}

// NewCartItem builds a new line priced from product.
func NewCartItem(cartID uuid.UUID, product *Product, quantity int, now time.Time) *CartItem {
	return &CartItem{
		ID:        uuid.New(),
		CartID:    cartID,
		ProductID: product.ID,
		Quantity:  quantity,
		Amount:    LineAmount(product.Price, quantity),
		Version:   1,
		Product:   product,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Reprice sets the quantity and snapshots the amount from price.
func (i *CartItem) Reprice(quantity int, price decimal.Decimal, now time.Time) {
	i.Quantity = quantity
	i.Amount = LineAmount(price, quantity)
	i.UpdatedAt = now
}

// MaxLineQuantity caps the quantity of a single cart line, merged adds included.
const MaxLineQuantity = 10000

var ErrInvalidQuantity = NewError(KindInvalidArgument, "quantity must be between 1 and 10000")

// CheckQuantity rejects line quantities outside [1, MaxLineQuantity].
func CheckQuantity(quantity int) error {
	if quantity < 1 || quantity > MaxLineQuantity {
		return ErrInvalidQuantity
	}
	return nil
}
