package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the cost factor for bcrypt hashing
const BcryptCost = 10

var (
	ErrInvalidCredentials = domain.NewError(domain.KindUnauthorized, "invalid username or password")
	ErrMissingUserFields  = domain.NewError(domain.KindInvalidArgument, "username, email and password are required")
)

// dummyHash is compared against when the username is unknown so both
// failure paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("storefront-dummy-password"), BcryptCost)

// UserService defines the interface for user business logic
type UserService interface {
	Register(ctx context.Context, username, email, password, firstName, lastName string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*domain.TokenPair, *domain.User, error)
	Logout(ctx context.Context, refreshToken string) error
	LogoutEverywhere(ctx context.Context, userID uuid.UUID) (int64, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

type userService struct {
	userRepo repository.UserRepository
	tokens   TokenIssuer
	profiles *cache.ReadThrough[*domain.User]
	clock    Clock
	logger   *zap.Logger
}

// NewUserService creates a new instance of UserService
func NewUserService(
	userRepo repository.UserRepository,
	tokens TokenIssuer,
	profiles *cache.ReadThrough[*domain.User],
	clock Clock,
	logger *zap.Logger,
) UserService {
	return &userService{
		userRepo: userRepo,
		tokens:   tokens,
		profiles: profiles,
		clock:    clock,
		logger:   logger.Named("users"),
	}
}

// Register creates a new user account with hashed password
func (s *userService) Register(ctx context.Context, username, email, password, firstName, lastName string) (*domain.User, error) {
	user, err := newAccount(NewAccount{
		Username:  username,
		Email:     email,
		Password:  password,
		FirstName: firstName,
		LastName:  lastName,
		Role:      domain.RoleUser,
	}, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := createAccount(ctx, s.userRepo, user); err != nil {
		return nil, err
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID.String()))
	return user, nil
}

// NewAccount holds what is needed to open an account.
type NewAccount struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// newAccount normalizes input and hashes the password. Nothing is stored.
func newAccount(in NewAccount, now time.Time) (*domain.User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if username == "" || email == "" || in.Password == "" {
		return nil, ErrMissingUserFields
	}
	if err := domain.CheckRole(in.Role); err != nil {
		return nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	return &domain.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hashedPassword),
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         in.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// createAccount stores user. The unique constraints decide duplicates, so
// there is no check-then-insert race.
func createAccount(ctx context.Context, users repository.UserRepository, user *domain.User) error {
	if err := users.Create(ctx, user); err != nil {
		if domain.KindOf(err) == domain.KindConflict {
			return err
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Login authenticates a user by username and returns a token pair.
// Unknown usernames and wrong passwords fail with the same error.
func (s *userService) Login(ctx context.Context, username, password string) (*domain.TokenPair, *domain.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}

	return pair, user, nil
}

// Logout invalidates the refresh token
func (s *userService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.Revoke(ctx, refreshToken)
}

// LogoutEverywhere revokes every refresh token of the user.
func (s *userService) LogoutEverywhere(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.tokens.RevokeAllForUser(ctx, userID)
}

// Refresh rotates a refresh token into a new pair.
func (s *userService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	return s.tokens.ValidateAndRotate(ctx, refreshToken)
}

// GetUserByID retrieves a user profile by ID through the profile cache.
// Profiles never carry the password hash.
func (s *userService) GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return cachedProfile(ctx, s.profiles, s.userRepo, userID)
}

func cachedProfile(ctx context.Context, profiles *cache.ReadThrough[*domain.User], users repository.UserRepository, userID uuid.UUID) (*domain.User, error) {
	user, err := profiles.Get(ctx, cache.UserKey(userID), func(ctx context.Context) (*domain.User, error) {
		user, err := users.FindByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = ""
		return user, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
