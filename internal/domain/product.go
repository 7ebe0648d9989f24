package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Discount    decimal.Decimal `json:"discount" db:"discount"`
	CategoryID  uuid.UUID       `json:"category_id" db:"category_id"`
	ImageURL    string          `json:"image_url" db:"image_url"`
	Stock       int             `json:"stock" db:"stock"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Category represents a product category
type Category struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

var (
	ErrEmptyProductName = NewError(KindInvalidArgument, "product name is required")
	ErrInvalidPrice     = NewError(KindInvalidArgument, "price must be greater than zero")
	ErrInvalidDiscount  = NewError(KindInvalidArgument, "discount must be at least zero and below the price")
	ErrInvalidStock     = NewError(KindInvalidArgument, "stock cannot be negative")
	ErrEmptyCategory    = NewError(KindInvalidArgument, "category name is required")
)

// Validate checks the catalog invariants of a product.
func (p *Product) Validate() error {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return ErrEmptyProductName
	case !p.Price.IsPositive():
		return ErrInvalidPrice
	case p.Discount.IsNegative() || p.Discount.GreaterThanOrEqual(p.Price):
		return ErrInvalidDiscount
	case p.Stock < 0:
		return ErrInvalidStock
	}
	return nil
}
