package types

import "time"

// Role is the authorization level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account in the system.
// It contains identity, role, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID string `json:"id" db:"id"`

	// Name is the user's display name. Observations and comments keep a
	// copy of it taken at creation time.
	Name string `json:"name" db:"name"`

	// Email is the user's login address, stored trimmed and lower-cased.
	Email string `json:"email" db:"email"`

	// Role indicates the user's authorization level (user or admin).
	Role Role `json:"role" db:"role"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Actor is the already-authenticated identity on whose behalf an
// operation runs. It is passed explicitly to every service call.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// IsAdmin reports whether the actor holds the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// ActorFromUser builds the actor view of a stored user.
func ActorFromUser(u User) Actor {
	return Actor{ID: u.ID, Name: u.Name, Role: u.Role}
}
