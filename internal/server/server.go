package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"storefront/internal/cache"
	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/domain"
	custommiddleware "storefront/internal/middleware"
	"storefront/internal/repository"
	"storefront/internal/service"
	"storefront/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     database.Service
	redis  *redis.Client
}

func NewServer(cfg *config.Config, logger *zap.Logger, db database.Service, redisClient *redis.Client) *Server {
	return &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      NewRouter(cfg, logger, db, redisClient),
			IdleTimeout:  time.Minute,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
		db:     db,
		redis:  redisClient,
	}
}

// NewRouter wires repositories, caches, services and handlers into one router.
func NewRouter(cfg *config.Config, logger *zap.Logger, db database.Service, redisClient *redis.Client) http.Handler {
	router := chi.NewRouter()

	router.Use(custommiddleware.DefaultMiddlewareStack()...)
	router.Use(custommiddleware.LoggingMiddleware(logger.Named("http")))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.CORSMiddleware(cfg.Server.AllowedOrigins, cfg.IsDevelopment()))
	router.Use(middleware.Compress(5))

	// Repositories
	sqlDB := db.DB()
	userRepo := repository.NewUserRepository(sqlDB)
	refreshTokenRepo := repository.NewRefreshTokenRepository(sqlDB)
	categoryRepo := repository.NewCategoryRepository(sqlDB)
	productRepo := repository.NewProductRepository(sqlDB)
	cartRepo := repository.NewCartRepository(sqlDB)

	// Caches
	redisCache := cache.NewRedisCache(redisClient)
	router.Get("/health", healthHandler(db, redisCache))

	cartCache := service.NewCartCache(redisCache, cfg.Cache.CartTTL, logger)
	productCache := cache.NewReadThrough[*domain.Product](redisCache, cfg.Cache.ProductTTL, logger.Named("product-cache"))
	profileCache := cache.NewReadThrough[*domain.User](redisCache, cfg.Cache.UserTTL, logger.Named("user-cache"))

	// Services
	clock := service.SystemClock()
	tokenIssuer := service.NewTokenIssuer(service.TokenConfig{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		AccessTTL:  cfg.JWT.AccessTTL(),
		RefreshTTL: cfg.JWT.RefreshTTL(),
	}, refreshTokenRepo, userRepo, clock, logger)
	userService := service.NewUserService(userRepo, tokenIssuer, profileCache, clock, logger)
	catalogService := service.NewCatalogService(categoryRepo, productRepo, productCache, cartCache, clock, logger)
	cartService := service.NewCartService(cartRepo, productRepo, cartCache, clock, service.AddItemBackoff, logger)
	adminUserService := service.NewAdminUserService(userRepo, tokenIssuer, profileCache, cartCache, clock, logger)

	// Middleware
	authMiddleware := custommiddleware.AuthMiddleware(tokenIssuer, logger)
	requireAdmin := custommiddleware.RequireAdmin(logger)
	authRateLimit := custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.Requests,
		Window:            cfg.RateLimit.Window,
		KeyPrefix:         "rate_limit:auth",
	}, logger)

	// Routes
	transport.NewUserHandler(userService, logger).RegisterRoutes(router, authMiddleware, authRateLimit)
	transport.NewCatalogHandler(catalogService, logger).RegisterRoutes(router, authMiddleware, requireAdmin)
	transport.NewCartHandler(cartService, logger).RegisterRoutes(router, authMiddleware)
	transport.NewAdminUserHandler(adminUserService, logger).RegisterRoutes(router, authMiddleware, requireAdmin)

	return router
}

// healthHandler reports 200 only when both the database and redis answer.
func healthHandler(db database.Service, redisCache *cache.RedisCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbHealth := db.Health(r.Context())

		redisHealth := map[string]string{"status": "up"}
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()
		if err := redisCache.Ping(ctx); err != nil {
			redisHealth = map[string]string{"status": "down", "error": err.Error()}
		}

		status, code := "ok", http.StatusOK
		if dbHealth["status"] != "up" || redisHealth["status"] != "up" {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		custommiddleware.RespondWithJSON(w, code, map[string]interface{}{
			"status":   status,
			"database": dbHealth,
			"redis":    redisHealth,
		})
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	_ = s.logger.Sync()
	return nil
}
