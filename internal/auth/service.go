// Package auth authenticates users and issues session tokens.
//
// Passwords are stored as argon2id hashes. Sessions are HS256 JWTs that carry
// the user id and role; revoked tokens are kept in an in-memory denylist
// until they expire. Every token is re-checked against the user store so a
// deleted or demoted user loses access on the next request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/JonMunkholm/campa/internal/core"
)

// DefaultTokenTTL is used when Config.TokenTTL is zero.
const DefaultTokenTTL = 12 * time.Hour

// User is an account with its profile. The password hash is never part of
// it.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      core.Role `json:"role"`
	FullName  *string   `json:"fullName,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity returns the caller identity for u.
func (u User) Identity() core.Identity {
	id := core.Identity{UserID: u.ID, Role: u.Role}
	if u.FullName != nil {
		id.FullName = *u.FullName
	}
	return id
}

// UserStore persists accounts. Implementations wrap core.ErrNotFound and
// core.ErrConflict (duplicate email).
type UserStore interface {
	CreateUser(ctx context.Context, u User, passwordHash string) (User, error)
	// UserByEmail returns the user and its password hash.
	UserByEmail(ctx context.Context, email string) (User, string, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, u User) error
	SetPassword(ctx context.Context, id, passwordHash string) error
	DeleteUser(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int, error)
}

// Auditor records account changes.
type Auditor interface {
	LogAudit(ctx context.Context, params core.AuditLogParams)
}

// Config configures a Service.
type Config struct {
	Secret   []byte
	TokenTTL time.Duration
	Clock    func() time.Time
}

// Service implements sign-in, session checks and user management.
type Service struct {
	store   UserStore
	audit   Auditor
	secret  []byte
	ttl     time.Duration
	clock   func() time.Time
	revoked *denylist
}

// NewService creates a Service. audit may be nil.
func NewService(store UserStore, audit Auditor, cfg Config) (*Service, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("auth: secret must be at least 32 bytes")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultTokenTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Service{
		store:   store,
		audit:   audit,
		secret:  cfg.Secret,
		ttl:     cfg.TokenTTL,
		clock:   cfg.Clock,
		revoked: newDenylist(),
	}, nil
}

// NewUser holds the fields for CreateUser.
type NewUser struct {
	Email    string    `json:"email"`
	Password string    `json:"password"`
	FullName string    `json:"fullName"`
	Role     core.Role `json:"role"`
}

// ProfileUpdate holds the fields UpdateProfile may change. Nil fields are
// left as they are.
type ProfileUpdate struct {
	FullName *string    `json:"fullName,omitempty"`
	Role     *core.Role `json:"role,omitempty"`
	Password *string    `json:"password,omitempty"`
}

// SignIn checks the credentials and issues a session token. An unknown
// email and a wrong password both return ErrInvalidCredentials.
func (s *Service) SignIn(ctx context.Context, email, password string) (Token, User, error) {
	u, hash, err := s.store.UserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, core.ErrNotFound) {
		return Token{}, User{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, User{}, fmt.Errorf("sign in: %w", err)
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		slog.Error("stored password hash unreadable", "user_id", u.ID, "error", err)
		return Token{}, User{}, ErrInvalidCredentials
	}
	if !ok {
		return Token{}, User{}, ErrInvalidCredentials
	}

	tok, err := generateToken(u.ID, u.Role, s.secret, s.clock(), s.ttl)
	if err != nil {
		return Token{}, User{}, err
	}
	return tok, u, nil
}

// SignOut revokes token until it expires.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := parseToken(token, s.secret, s.clock)
	if err != nil {
		return err
	}
	s.revoked.add(claims.ID, claims.ExpiresAt.Time, s.clock())
	return nil
}

// Identify resolves a session token to the caller. The role comes from the
// store, not from the token, so role changes apply immediately.
func (s *Service) Identify(ctx context.Context, token string) (core.Identity, error) {
	claims, err := parseToken(token, s.secret, s.clock)
	if err != nil {
		return core.Identity{}, err
	}
	if s.revoked.contains(claims.ID) {
		return core.Identity{}, ErrTokenRevoked
	}

	u, err := s.store.GetUser(ctx, claims.UserID)
	if errors.Is(err, core.ErrNotFound) {
		return core.Identity{}, ErrNoProfile
	}
	if err != nil {
		return core.Identity{}, fmt.Errorf("load user %s: %w", claims.UserID, err)
	}
	return u.Identity(), nil
}

// CreateUser adds an account. Admin only.
func (s *Service) CreateUser(ctx context.Context, actor core.Identity, nu NewUser) (User, error) {
	if !actor.IsAdmin() {
		return User{}, core.ErrForbidden
	}
	return s.createUser(ctx, actor, nu)
}

// Bootstrap creates the first admin when the store has no users. It reports
// whether an account was created.
func (s *Service) Bootstrap(ctx context.Context, email, password, fullName string) (bool, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	system := core.Identity{UserID: "system", FullName: "bootstrap", Role: core.RoleAdmin}
	if _, err := s.createUser(ctx, system, NewUser{
		Email:    email,
		Password: password,
		FullName: fullName,
		Role:     core.RoleAdmin,
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) createUser(ctx context.Context, actor core.Identity, nu NewUser) (User, error) {
	email := normalizeEmail(nu.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return User{}, ErrInvalidEmail
	}
	if len(nu.Password) < MinPasswordLength {
		return User{}, ErrWeakPassword
	}
	if nu.Role == "" {
		nu.Role = core.RoleUser
	}
	if !nu.Role.Valid() {
		return User{}, ErrInvalidRole
	}

	hash, err := HashPassword(nu.Password)
	if err != nil {
		return User{}, err
	}

	u := User{Email: email, Role: nu.Role, CreatedAt: s.clock().UTC()}
	if name := strings.TrimSpace(nu.FullName); name != "" {
		u.FullName = &name
	}

	created, err := s.store.CreateUser(ctx, u, hash)
	if err != nil {
		return User{}, fmt.Errorf("create user %s: %w", email, err)
	}

	s.logAudit(ctx, core.AuditLogParams{
		Action:  core.ActionUserCreate,
		Actor:   actor,
		Subject: created.ID,
		Reason:  string(created.Role),
	})
	return created, nil
}

// GetUser returns one account.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, core.ErrEmptyID
	}
	return s.store.GetUser(ctx, id)
}

// ListUsers returns all accounts ordered by full name. Accounts without a
// name sort last by email.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i], users[j]
		switch {
		case a.FullName == nil && b.FullName == nil:
			return a.Email < b.Email
		case a.FullName == nil:
			return false
		case b.FullName == nil:
			return true
		default:
			return strings.ToLower(*a.FullName) < strings.ToLower(*b.FullName)
		}
	})
	return users, nil
}

// DeleteUser removes an account. Admin only, and never the caller's own.
func (s *Service) DeleteUser(ctx context.Context, actor core.Identity, id string) error {
	if !actor.IsAdmin() {
		return core.ErrForbidden
	}
	if id == "" {
		return core.ErrEmptyID
	}
	if id == actor.UserID {
		return ErrSelfDelete
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}

	s.logAudit(ctx, core.AuditLogParams{
		Action:       core.ActionUserDelete,
		Actor:        actor,
		Subject:      id,
		RowsAffected: 1,
	})
	return nil
}

// UpdateProfile changes the name, role or password of an account. Users may
// update themselves; only admins may update others or change a role.
func (s *Service) UpdateProfile(ctx context.Context, actor core.Identity, id string, upd ProfileUpdate) (User, error) {
	if id == "" {
		return User{}, core.ErrEmptyID
	}
	if !actor.IsAdmin() && actor.UserID != id {
		return User{}, core.ErrForbidden
	}
	if upd.Role != nil && !actor.IsAdmin() {
		return User{}, ErrRoleChange
	}
	if upd.Role != nil && !upd.Role.Valid() {
		return User{}, ErrInvalidRole
	}
	if upd.Password != nil && len(*upd.Password) < MinPasswordLength {
		return User{}, ErrWeakPassword
	}

	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, err
	}

	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		u.FullName = nil
		if name != "" {
			u.FullName = &name
		}
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}

	if err := s.store.UpdateUser(ctx, u); err != nil {
		return User{}, fmt.Errorf("update user %s: %w", id, err)
	}

	if upd.Password != nil {
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, err
		}
		if err := s.store.SetPassword(ctx, id, hash); err != nil {
			return User{}, fmt.Errorf("set password %s: %w", id, err)
		}
	}

	s.logAudit(ctx, core.AuditLogParams{
		Action:       core.ActionUserUpdate,
		Actor:        actor,
		Subject:      id,
		RowsAffected: 1,
	})
	return u, nil
}

func (s *Service) logAudit(ctx context.Context, p core.AuditLogParams) {
	if s.audit != nil {
		s.audit.LogAudit(ctx, p)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
