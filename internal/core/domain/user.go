package domain

import (
	"strings"
	"time"
)

// Role is the closed set of marketplace account kinds. It is fixed at signup.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleFreelancer
}

func (r Role) String() string { return string(r) }

// User models a marketplace account as held by the credential store.
type User struct {
	ID           int64        `json:"id"`
	FullName     string       `json:"full_name"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Role         Role         `json:"role"`
	Reset        *ResetSecret `json:"-"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Profile is the public snapshot of a user handed to clients after login.
type Profile struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// Profile returns the public view of u.
func (u *User) Profile() Profile {
	return Profile{ID: u.ID, FullName: u.FullName, Email: u.Email, Role: u.Role}
}

// Claims is what a verified bearer token proves about its holder.
type Claims struct {
	UserID int64
	Role   Role
}

// NormalizeEmail is the canonical form used as the identity key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
