package services

import (
	"context"
	"testing"

	"github.com/observach/apiserver/internal/store/storetest"
	"github.com/observach/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newUserService() *UserService {
	svc := NewUserService(storetest.NewMemory().Users())
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	user, err := svc.Register(ctx, " Ana ", " Ana@Example.COM ", "secret1", types.RoleUser)
	require.NoError(t, err)
	assert.Equal(t, "Ana", user.Name)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.Equal(t, types.RoleUser, user.Role)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	authed, err := svc.Authenticate(ctx, "ANA@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, authed.ID)

	_, err = svc.Authenticate(ctx, "ana@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "12345", types.RoleUser)
	assertKind(t, err, ErrValidation)

	_, err = svc.Register(ctx, "", "ana@example.com", "123456", types.RoleUser)
	assertKind(t, err, ErrValidation)
	assert.Equal(t, "missing required fields: name", err.Error())

	_, err = svc.Register(ctx, "Ana", "ana@example.com", "123456", types.Role("root"))
	assertKind(t, err, ErrValidation)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "123456", types.RoleUser)
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Other Ana", "ANA@example.com", "654321", types.RoleUser)
	assertKind(t, err, ErrConflict)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	admin, created, err := svc.EnsureAdmin(ctx, "Administrador", "admin@observach.org", "admin123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.RoleAdmin, admin.Role)

	again, created, err := svc.EnsureAdmin(ctx, "Administrador", "admin@observach.org", "other-password")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, admin.ID, again.ID)

	_, err = svc.Authenticate(ctx, "admin@observach.org", "admin123")
	assert.NoError(t, err)
}

func TestEnsureAdminRefusesRegularAccount(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "admin@observach.org", "123456", types.RoleUser)
	require.NoError(t, err)

	_, created, err := svc.EnsureAdmin(ctx, "Administrador", "ADMIN@observach.org", "admin123")
	assertKind(t, err, ErrConflict)
	assert.False(t, created)
	assert.Equal(t, "account admin@observach.org exists without the admin role", err.Error())
}

func TestGetByIDNotFound(t *testing.T) {
	_, err := newUserService().GetByID(context.Background(), "missing")
	assertKind(t, err, ErrNotFound)
}
