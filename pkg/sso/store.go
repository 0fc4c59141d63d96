package sso

import (
	"context"
	"time"
)

// UserStore persists users. Lookups return ErrNotFound when nothing matches.
type UserStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, user *User) error
	Save(ctx context.Context, user *User) error
}

// RoleStore resolves and assigns local roles.
type RoleStore interface {
	// FindRolesByNames returns the roles that exist, in no particular order.
	FindRolesByNames(ctx context.Context, names []string) ([]Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	AssignPrimaryRole(ctx context.Context, userID, roleID int64) error
	ReplaceAllRoles(ctx context.Context, userID int64, roleIDs []int64) error
}

// Store combines user and role persistence.
type Store interface {
	UserStore
	RoleStore
}

// Transactor runs fn inside a single transaction. fn's error rolls the
// transaction back.
type Transactor interface {
	InTx(ctx context.Context, fn func(Store) error) error
}

// ExpiredTokenStore clears stored refresh tokens that expired before a cutoff.
type ExpiredTokenStore interface {
	ClearExpiredTokens(ctx context.Context, before time.Time) (int64, error)
}
