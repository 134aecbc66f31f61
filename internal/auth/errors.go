package auth

import "errors"

// Error texts are matched by core.MapError, keep them stable.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrNoProfile          = errors.New("user profile not found")
	ErrSelfDelete         = errors.New("forbidden: cannot delete your own account")
	ErrRoleChange         = errors.New("forbidden: only an admin may change roles")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password too short")
)
