package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"storefront/internal/domain"
	"storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testTokenConfig = service.TokenConfig{
	Secret:     "test-secret",
	Issuer:     "storefront",
	Audience:   "storefront-clients",
	AccessTTL:  15 * time.Minute,
	RefreshTTL: time.Hour,
}

// stubUserService answers from the function fields that a test sets.
type stubUserService struct {
	register         func(username, email, password, firstName, lastName string) (*domain.User, error)
	login            func(username, password string) (*domain.TokenPair, *domain.User, error)
	logout           func(refreshToken string) error
	logoutEverywhere func(userID uuid.UUID) (int64, error)
	refresh          func(refreshToken string) (*domain.TokenPair, error)
	getUserByID      func(userID uuid.UUID) (*domain.User, error)
}

func (s *stubUserService) Register(_ context.Context, username, email, password, firstName, lastName string) (*domain.User, error) {
	return s.register(username, email, password, firstName, lastName)
}

func (s *stubUserService) Login(_ context.Context, username, password string) (*domain.TokenPair, *domain.User, error) {
	return s.login(username, password)
}

func (s *stubUserService) Logout(_ context.Context, refreshToken string) error {
	return s.logout(refreshToken)
}

func (s *stubUserService) LogoutEverywhere(_ context.Context, userID uuid.UUID) (int64, error) {
	return s.logoutEverywhere(userID)
}

func (s *stubUserService) Refresh(_ context.Context, refreshToken string) (*domain.TokenPair, error) {
	return s.refresh(refreshToken)
}

func (s *stubUserService) GetUserByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.getUserByID(userID)
}

type stubAdminUserService struct {
	createUser func(account service.NewAccount) (*domain.User, error)
	listUsers  func(page, pageSize int) (*service.UserPage, error)
	getUser    func(userID uuid.UUID) (*domain.User, error)
	updateUser func(userID uuid.UUID, update service.AccountUpdate) (*domain.User, error)
	deleteUser func(actorID, userID uuid.UUID) (bool, error)
}

func (s *stubAdminUserService) CreateUser(_ context.Context, account service.NewAccount) (*domain.User, error) {
	return s.createUser(account)
}

func (s *stubAdminUserService) ListUsers(_ context.Context, page, pageSize int) (*service.UserPage, error) {
	return s.listUsers(page, pageSize)
}

func (s *stubAdminUserService) GetUser(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.getUser(userID)
}

func (s *stubAdminUserService) UpdateUser(_ context.Context, userID uuid.UUID, update service.AccountUpdate) (*domain.User, error) {
	return s.updateUser(userID, update)
}

func (s *stubAdminUserService) DeleteUser(_ context.Context, actorID, userID uuid.UUID) (bool, error) {
	return s.deleteUser(actorID, userID)
}

type stubCartService struct {
	getCart    func(userID uuid.UUID) (*domain.Cart, error)
	addItem    func(userID, productID uuid.UUID, quantity int) (*domain.CartItem, error)
	updateItem func(userID, productID uuid.UUID, quantity int) (*domain.CartItem, error)
	removeItem func(userID, productID uuid.UUID) (bool, error)
	clearCart  func(userID uuid.UUID) (bool, error)
}

func (s *stubCartService) GetCart(_ context.Context, userID uuid.UUID) (*domain.Cart, error) {
	return s.getCart(userID)
}

func (s *stubCartService) AddItem(_ context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error) {
	return s.addItem(userID, productID, quantity)
}

func (s *stubCartService) UpdateItem(_ context.Context, userID, productID uuid.UUID, quantity int) (*domain.CartItem, error) {
	return s.updateItem(userID, productID, quantity)
}

func (s *stubCartService) RemoveItem(_ context.Context, userID, productID uuid.UUID) (bool, error) {
	return s.removeItem(userID, productID)
}

func (s *stubCartService) ClearCart(_ context.Context, userID uuid.UUID) (bool, error) {
	return s.clearCart(userID)
}

type stubCatalogService struct {
	createCategory func(name, description string) (*domain.Category, error)
	listCategories func() ([]*domain.Category, error)
	getCategory    func(id uuid.UUID) (*domain.Category, error)
	updateCategory func(id uuid.UUID, name, description string) (*domain.Category, error)
	deleteCategory func(id uuid.UUID) error
	createProduct  func(input service.ProductInput) (*domain.Product, error)
	updateProduct  func(id uuid.UUID, input service.ProductInput) (*domain.Product, error)
	deleteProduct  func(id uuid.UUID) error
	getProduct     func(id uuid.UUID) (*domain.Product, error)
	listProducts   func(filter repository.ProductFilter) (*service.ProductPage, error)
	searchProducts func(query string, page, pageSize int) (*service.ProductPage, error)
}

func (s *stubCatalogService) CreateCategory(_ context.Context, name, description string) (*domain.Category, error) {
	return s.createCategory(name, description)
}

func (s *stubCatalogService) ListCategories(_ context.Context) ([]*domain.Category, error) {
	return s.listCategories()
}

func (s *stubCatalogService) GetCategory(_ context.Context, id uuid.UUID) (*domain.Category, error) {
	return s.getCategory(id)
}

func (s *stubCatalogService) UpdateCategory(_ context.Context, id uuid.UUID, name, description string) (*domain.Category, error) {
	return s.updateCategory(id, name, description)
}

func (s *stubCatalogService) DeleteCategory(_ context.Context, id uuid.UUID) error {
	return s.deleteCategory(id)
}

func (s *stubCatalogService) CreateProduct(_ context.Context, input service.ProductInput) (*domain.Product, error) {
	return s.createProduct(input)
}

func (s *stubCatalogService) UpdateProduct(_ context.Context, id uuid.UUID, input service.ProductInput) (*domain.Product, error) {
	return s.updateProduct(id, input)
}

func (s *stubCatalogService) DeleteProduct(_ context.Context, id uuid.UUID) error {
	return s.deleteProduct(id)
}

func (s *stubCatalogService) GetProduct(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	return s.getProduct(id)
}

func (s *stubCatalogService) ListProducts(_ context.Context, filter repository.ProductFilter) (*service.ProductPage, error) {
	return s.listProducts(filter)
}

func (s *stubCatalogService) SearchProducts(_ context.Context, query string, page, pageSize int) (*service.ProductPage, error) {
	return s.searchProducts(query, page, pageSize)
}

func passthrough(next http.Handler) http.Handler { return next }

// newTestRouter mounts the handlers the way the server does, with a real
// access token check.
func newTestRouter(users service.UserService, carts service.CartService, catalog service.CatalogService) http.Handler {
	logger := zap.NewNop()
	validator := service.NewTokenIssuer(testTokenConfig, nil, nil, service.SystemClock(), logger)
	auth := middleware.AuthMiddleware(validator, logger)

	router := chi.NewRouter()
	if users != nil {
		NewUserHandler(users, logger).RegisterRoutes(router, auth, passthrough)
	}
	if carts != nil {
		NewCartHandler(carts, logger).RegisterRoutes(router, auth)
	}
	if catalog != nil {
		NewCatalogHandler(catalog, logger).RegisterRoutes(router, auth, middleware.RequireAdmin(logger))
	}
	return router
}

func newAdminRouter(admin service.AdminUserService) http.Handler {
	logger := zap.NewNop()
	validator := service.NewTokenIssuer(testTokenConfig, nil, nil, service.SystemClock(), logger)

	router := chi.NewRouter()
	NewAdminUserHandler(admin, logger).RegisterRoutes(router, middleware.AuthMiddleware(validator, logger), middleware.RequireAdmin(logger))
	return router
}

func accessToken(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()

	now := time.Now()
	claims := &service.Claims{
		UserID:   userID,
		Username: "tester",
		Email:    "tester@example.com",
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    testTokenConfig.Issuer,
			Audience:  jwt.ClaimStrings{testTokenConfig.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(testTokenConfig.AccessTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testTokenConfig.Secret))
	require.NoError(t, err)
	return signed
}

// do sends a request through router; an empty token sends none.
func do(router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
