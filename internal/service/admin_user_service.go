package service

import (
	"context"
	"fmt"
	"strings"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrSelfDelete = domain.NewError(domain.KindInvalidArgument, "admins cannot delete their own account")

// AccountUpdate changes only the fields that are set.
type AccountUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Role      *string
}

// UserPage is one page of the user listing.
type UserPage struct {
	Users    []*domain.User `json:"users"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

// AdminUserService is user management for administrators. Returned users
// never carry the password hash.
type AdminUserService interface {
	CreateUser(ctx context.Context, account NewAccount) (*domain.User, error)
	ListUsers(ctx context.Context, page, pageSize int) (*UserPage, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	UpdateUser(ctx context.Context, userID uuid.UUID, update AccountUpdate) (*domain.User, error)
	// DeleteUser removes userID on behalf of actorID. Deleting an unknown
	// user reports false without error.
	DeleteUser(ctx context.Context, actorID, userID uuid.UUID) (bool, error)
}

type adminUserService struct {
	userRepo repository.UserRepository
	tokens   TokenIssuer
	profiles *cache.ReadThrough[*domain.User]
	carts    *cache.ReadThrough[*domain.Cart]
	clock    Clock
	logger   *zap.Logger
}

// NewAdminUserService creates a new instance of AdminUserService
func NewAdminUserService(
	userRepo repository.UserRepository,
	tokens TokenIssuer,
	profiles *cache.ReadThrough[*domain.User],
	carts *cache.ReadThrough[*domain.Cart],
	clock Clock,
	logger *zap.Logger,
) AdminUserService {
	return &adminUserService{
		userRepo: userRepo,
		tokens:   tokens,
		profiles: profiles,
		carts:    carts,
		clock:    clock,
		logger:   logger.Named("user-admin"),
	}
}

func (s *adminUserService) CreateUser(ctx context.Context, account NewAccount) (*domain.User, error) {
	if account.Role == "" {
		account.Role = domain.RoleUser
	}

	user, err := newAccount(account, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := createAccount(ctx, s.userRepo, user); err != nil {
		return nil, err
	}

	s.logger.Info("User created", zap.String("user_id", user.ID.String()), zap.String("role", user.Role))
	return withoutHash(user), nil
}

func (s *adminUserService) ListUsers(ctx context.Context, page, pageSize int) (*UserPage, error) {
	page, pageSize = repository.NormalizePage(page, pageSize)

	users, total, err := s.userRepo.List(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	for i, user := range users {
		users[i] = withoutHash(user)
	}

	return &UserPage{Users: users, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *adminUserService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return cachedProfile(ctx, s.profiles, s.userRepo, userID)
}

// UpdateUser applies update and drops the cached profile. A role change
// also revokes the user's refresh tokens so no new access token carries the
// old role.
func (s *adminUserService) UpdateUser(ctx context.Context, userID uuid.UUID, update AccountUpdate) (*domain.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, s.storeError(err, userID, "update")
	}

	previousRole := user.Role
	if update.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*update.Email))
		if email == "" {
			return nil, ErrMissingUserFields
		}
		user.Email = email
	}
	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if update.Role != nil {
		if err := domain.CheckRole(*update.Role); err != nil {
			return nil, err
		}
		user.Role = *update.Role
	}
	user.UpdatedAt = s.clock.Now()

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, s.storeError(err, userID, "update")
	}
	s.profiles.Invalidate(ctx, cache.UserKey(userID))

	if user.Role != previousRole {
		if _, err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
			return nil, err
		}
		s.logger.Info("User role changed",
			zap.String("user_id", userID.String()),
			zap.String("from", previousRole),
			zap.String("to", user.Role),
		)
	}

	return withoutHash(user), nil
}

func (s *adminUserService) DeleteUser(ctx context.Context, actorID, userID uuid.UUID) (bool, error) {
	if actorID == userID {
		return false, ErrSelfDelete
	}

	deleted, err := s.userRepo.Delete(ctx, userID)
	if err != nil {
		return false, s.storeError(err, userID, "delete")
	}
	if !deleted {
		return false, nil
	}

	s.profiles.Invalidate(ctx, cache.UserKey(userID))
	s.carts.Invalidate(ctx, cache.CartKey(userID))
	s.logger.Info("User deleted", zap.String("user_id", userID.String()), zap.String("by", actorID.String()))
	return true, nil
}

// storeError passes classified errors through and logs and wraps the rest.
func (s *adminUserService) storeError(err error, id uuid.UUID, operation string) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}

	s.logger.Error("User operation failed",
		zap.String("entity", "user"),
		zap.String("id", id.String()),
		zap.String("operation", operation),
		zap.Error(err),
	)
	return fmt.Errorf("failed to %s user: %w", operation, err)
}

func withoutHash(user *domain.User) *domain.User {
	stripped := *user
	stripped.PasswordHash = ""
	return &stripped
}
