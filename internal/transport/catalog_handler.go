package transport

import (
	"net/http"
	"strings"

	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CategoryRequest is the create and update payload for categories
type CategoryRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// ProductRequest is the create and update payload for products
type ProductRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price" validate:"gt=0"`
	Discount    decimal.Decimal `json:"discount" validate:"gte=0"`
	CategoryID  string          `json:"category_id" validate:"required,uuid"`
	ImageURL    string          `json:"image_url" validate:"omitempty,url"`
	Stock       int             `json:"stock" validate:"gte=0"`
}

func (p ProductRequest) input() (service.ProductInput, error) {
	categoryID, err := uuid.Parse(p.CategoryID)
	if err != nil {
		return service.ProductInput{}, err
	}
	return service.ProductInput{
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price,
		Discount:    p.Discount,
		CategoryID:  categoryID,
		ImageURL:    p.ImageURL,
		Stock:       p.Stock,
	}, nil
}

// CatalogHandler serves categories and products. Reads are public,
// writes need the admin role.
type CatalogHandler struct {
	catalog service.CatalogService
	logger  *zap.Logger
}

func NewCatalogHandler(catalog service.CatalogService, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: catalog,
		logger:  logger,
	}
}

func (h *CatalogHandler) RegisterRoutes(r chi.Router, authMiddleware, requireAdmin func(http.Handler) http.Handler) {
	r.Route("/api/categories", func(r chi.Router) {
		r.Get("/", h.ListCategories)
		r.Get("/{categoryID}", h.GetCategory)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware, requireAdmin)
			r.Post("/", h.CreateCategory)
			r.Put("/{categoryID}", h.UpdateCategory)
			r.Delete("/{categoryID}", h.DeleteCategory)
		})
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/search", h.SearchProducts)
		r.Get("/{productID}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware, requireAdmin)
			r.Post("/", h.CreateProduct)
			r.Put("/{productID}", h.UpdateProduct)
			r.Delete("/{productID}", h.DeleteProduct)
		})
	})
}

func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.ListCategories(r.Context())
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, categories)
}

func (h *CatalogHandler) GetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}

	category, err := h.catalog.GetCategory(r.Context(), id)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, category)
}

func (h *CatalogHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CategoryRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	category, err := h.catalog.CreateCategory(r.Context(), req.Name, req.Description)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, category)
}

func (h *CatalogHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}

	var req CategoryRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return
	}

	category, err := h.catalog.UpdateCategory(r.Context(), id, req.Name, req.Description)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, category)
}

// DeleteCategory answers 409 while products still belong to the category.
func (h *CatalogHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}

	if err := h.catalog.DeleteCategory(r.Context(), id); err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListProducts supports ?category_id=&page=&page_size=&sort_by=&sort_order=
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := repository.ProductFilter{
		SortBy:    query.Get("sort_by"),
		SortOrder: repository.SortOrder(strings.ToUpper(query.Get("sort_order"))),
	}

	if raw := query.Get("category_id"); raw != "" {
		categoryID, err := uuid.Parse(raw)
		if err != nil {
			middleware.RespondWithError(w, http.StatusBadRequest, "invalid category_id")
			return
		}
		filter.CategoryID = &categoryID
	}

	var ok bool
	if filter.Page, filter.PageSize, ok = paging(w, r); !ok {
		return
	}

	page, err := h.catalog.ListProducts(r.Context(), filter)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, page)
}

func (h *CatalogHandler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		middleware.RespondWithError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}

	pageNumber, pageSize, ok := paging(w, r)
	if !ok {
		return
	}

	page, err := h.catalog.SearchProducts(r.Context(), q, pageNumber, pageSize)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, page)
}

func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, product)
}

func (h *CatalogHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.CreateProduct(r.Context(), input)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusCreated, product)
}

func (h *CatalogHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	input, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.UpdateProduct(r.Context(), id, input)
	if err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	middleware.RespondWithJSON(w, http.StatusOK, product)
}

func (h *CatalogHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "productID")
	if !ok {
		return
	}

	if err := h.catalog.DeleteProduct(r.Context(), id); err != nil {
		middleware.RespondWithDomainError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) decodeProduct(w http.ResponseWriter, r *http.Request) (service.ProductInput, bool) {
	var req ProductRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		middleware.RespondWithDecodeError(w, err)
		return service.ProductInput{}, false
	}

	input, err := req.input()
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid category_id")
		return service.ProductInput{}, false
	}
	return input, true
}

func paging(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page, err := queryInt(r, "page")
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid page")
		return 0, 0, false
	}
	pageSize, err := queryInt(r, "page_size")
	if err != nil {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid page_size")
		return 0, 0, false
	}
	return page, pageSize, true
}
