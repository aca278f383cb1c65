package services

import (
	"context"
	"errors"
	"strings"

	"github.com/observach/apiserver/internal/store"
	"github.com/observach/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// UserService encapsulates the identity store use-cases.
type UserService struct {
	repo       UserRepository
	bcryptCost int
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, bcryptCost: bcrypt.DefaultCost}
}

func (s *UserService) GetByID(ctx context.Context, id string) (types.User, error) {
	user, err := s.repo.GetByID(ctx, id)
	return user, fromStore(err, "user not found")
}

// Create stores a user whose credential is already hashed. Emails are
// compared trimmed and case-insensitively; a duplicate yields ErrConflict.
func (s *UserService) Create(ctx context.Context, name, email, passwordHash string, role types.Role) (types.User, error) {
	name = strings.TrimSpace(name)
	email = store.NormalizeEmail(email)
	if missing := missingFields(
		field{"name", name},
		field{"email", email},
		field{"password", passwordHash},
	); len(missing) > 0 {
		return types.User{}, newError(ErrValidation, "missing required fields: %s", strings.Join(missing, ", "))
	}
	if !role.Valid() {
		return types.User{}, newError(ErrValidation, "invalid role %q", role)
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return types.User{}, newError(ErrConflict, "email already registered")
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Name:         name,
		Email:        email,
		Role:         role,
		PasswordHash: passwordHash,
	})
	if errors.Is(err, store.ErrConflict) {
		return types.User{}, newError(ErrConflict, "email already registered")
	}
	return user, err
}

// Register hashes password and creates an account with the given role.
func (s *UserService) Register(ctx context.Context, name, email, password string, role types.Role) (types.User, error) {
	if len(password) < minPasswordLength {
		return types.User{}, newError(ErrValidation, "password must be at least %d characters", minPasswordLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return types.User{}, err
	}
	return s.Create(ctx, name, email, string(hashed), role)
}

// ErrInvalidCredentials is returned by Authenticate for an unknown email or
// a wrong password, without saying which.
var ErrInvalidCredentials = errors.New("invalid credentials")

func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	user, err := s.repo.GetByEmail(ctx, store.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// EnsureAdmin creates the bootstrap administrator unless an account with
// that email already exists. created reports whether a row was written.
// An existing non-admin account under the email is a conflict.
func (s *UserService) EnsureAdmin(ctx context.Context, name, email, password string) (user types.User, created bool, err error) {
	existing, err := s.repo.GetByEmail(ctx, store.NormalizeEmail(email))
	if err == nil {
		if existing.Role != types.RoleAdmin {
			return types.User{}, false, newError(ErrConflict, "account %s exists without the admin role", existing.Email)
		}
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, false, err
	}

	user, err = s.Register(ctx, name, email, password, types.RoleAdmin)
	if err != nil {
		return types.User{}, false, err
	}
	return user, true, nil
}
