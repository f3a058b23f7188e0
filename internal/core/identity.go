package core

import (
	"context"
	"fmt"
	"strings"

	"ptxmeta/pkg/domain"
)

// Role is a user permission level. Levels are totally ordered.
type Role int

// Roles from least to most privileged.
const (
	RoleBanned Role = iota
	RoleDisabled
	RoleEnabled
	RoleUser
	RoleAdmin
)

var roleNames = map[Role]string{
	RoleBanned:   "banned",
	RoleDisabled: "disabled",
	RoleEnabled:  "enabled",
	RoleUser:     "user",
	RoleAdmin:    "admin",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole maps a role name to its level.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return role, nil
		}
	}
	return RoleBanned, fmt.Errorf("unknown role %q", name)
}

// User is the caller of a service operation.
type User struct {
	ID           string
	Role         Role
	Organisation string
}

// Identity resolves the caller of an operation.
type Identity interface {
	CurrentUser(ctx context.Context) (User, error)
}

type userKey struct{}

// WithUser attaches u to ctx for ContextIdentity.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user attached by WithUser.
func UserFromContext(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(userKey{}).(User)
	return u, ok
}

// ContextIdentity reads the caller from the request context. Anonymous
// callers are denied.
type ContextIdentity struct{}

// CurrentUser implements Identity.
func (ContextIdentity) CurrentUser(ctx context.Context) (User, error) {
	u, ok := UserFromContext(ctx)
	if !ok {
		return User{}, fmt.Errorf("%w: no authenticated user", domain.ErrPermissionDenied)
	}
	return u, nil
}

func (s *Service) authorize(ctx context.Context, min Role) (User, error) {
	u, err := s.identity.CurrentUser(ctx)
	if err != nil {
		return User{}, err
	}
	if u.Role < min {
		return User{}, fmt.Errorf("%w: role %s is below %s", domain.ErrPermissionDenied, u.Role, min)
	}
	return u, nil
}

// canDelete allows admins and the author of the file.
func canDelete(u User, f domain.File) bool {
	if u.Role >= RoleAdmin {
		return true
	}
	return u.Role >= RoleUser && u.ID != "" && u.ID == f.AuthorID
}
