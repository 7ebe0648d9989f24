package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Feature: storefront, Property 1: Registration stores hashed passwords
func TestProperty_RegistrationStoresHashedPasswords(t *testing.T) {
	requireDB(t)
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	properties := gopter.NewProperties(nil)

	properties.Property("passwords are hashed with bcrypt and not stored as plaintext", prop.ForAll(
		func(username string, email string, password string) bool {
			_, _ = testDB.Exec("DELETE FROM users WHERE username = $1 OR email = $2", username, email)

			hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				t.Logf("Failed to hash password: %v", err)
				return false
			}

			user := &domain.User{
				ID:           uuid.New(),
				Username:     username,
				Email:        email,
				PasswordHash: string(hashedPassword),
				Role:         domain.RoleUser,
				CreatedAt:    time.Now(),
				UpdatedAt:    time.Now(),
			}

			if err := repo.Create(ctx, user); err != nil {
				t.Logf("Failed to create user: %v", err)
				return false
			}

			retrievedUser, err := repo.FindByUsername(ctx, username)
			if err != nil {
				t.Logf("Failed to find user: %v", err)
				return false
			}

			if retrievedUser.PasswordHash == password {
				t.Logf("Password was stored as plaintext!")
				return false
			}

			if err := bcrypt.CompareHashAndPassword([]byte(retrievedUser.PasswordHash), []byte(password)); err != nil {
				t.Logf("Stored password is not a valid bcrypt hash: %v", err)
				return false
			}

			_, _ = testDB.Exec("DELETE FROM users WHERE id = $1", user.ID)

			return true
		},
		gen.RegexMatch(`[a-z]{5,12}`),
		gen.RegexMatch(`[a-z]{5,10}@[a-z]{3,8}\.(com|org|net)`),
		gen.RegexMatch(`[A-Za-z0-9!@#$%]{8,20}`),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestUserRepository_DuplicatesAreConflicts(t *testing.T) {
	requireDB(t)
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	existing := seedUser(t)

	sameUsername := *existing
	sameUsername.ID = uuid.New()
	sameUsername.Email = "other-" + existing.Email
	err := repo.Create(ctx, &sameUsername)
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.ErrorIs(t, err, domain.ErrConflict)

	sameEmail := *existing
	sameEmail.ID = uuid.New()
	sameEmail.Username = existing.Username + "_2"
	err = repo.Create(ctx, &sameEmail)
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestUserRepository_Lookups(t *testing.T) {
	requireDB(t)
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	user := seedUser(t)

	byID, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, byID.Username)

	byEmail, err := repo.FindByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	_, err = repo.FindByUsername(ctx, "nobody-"+uuid.NewString())
	assert.True(t, errors.Is(err, ErrUserNotFound))
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestUserRepository_Update(t *testing.T) {
	requireDB(t)
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	user := seedUser(t)
	other := seedUser(t)

	changed := *user
	changed.Email = "changed-" + user.Email
	changed.FirstName = "Changed"
	changed.Role = domain.RoleAdmin
	changed.UpdatedAt = now()
	require.NoError(t, repo.Update(ctx, &changed))

	found, err := repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, changed.Email, found.Email)
	assert.Equal(t, "Changed", found.FirstName)
	assert.Equal(t, domain.RoleAdmin, found.Role)
	assert.Equal(t, user.PasswordHash, found.PasswordHash, "the password hash is not rewritten")

	clash := changed
	clash.Email = other.Email
	assert.ErrorIs(t, repo.Update(ctx, &clash), ErrEmailTaken)

	missing := changed
	missing.ID = uuid.New()
	missing.Email = uuid.NewString()[:8] + "@example.com"
	assert.ErrorIs(t, repo.Update(ctx, &missing), ErrUserNotFound)
}

func TestUserRepository_DeleteCascades(t *testing.T) {
	requireDB(t)
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	user := seedUser(t)
	token := seedRefreshToken(t, user.ID, time.Hour)
	seedCart(t, user.ID)

	deleted, err := repo.Delete(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.FindByID(ctx, user.ID)
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = NewRefreshTokenRepository(testDB).FindByToken(ctx, token.Token)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
	_, err = NewCartRepository(testDB).FindByUser(ctx, user.ID, false)
	assert.ErrorIs(t, err, ErrCartNotFound)

	deleted, err = repo.Delete(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestUserRepository_List(t *testing.T) {
	requireDB(t)
	repo := NewUserRepository(testDB)
	ctx := context.Background()

	seedUser(t)
	seedUser(t)

	users, total, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, total, 2)
	assert.Len(t, users, 1)

	second, _, err := repo.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.NotEqual(t, users[0].ID, second[0].ID, "pages do not overlap")
}
