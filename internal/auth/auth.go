// Package auth provides user accounts and bearer-token authentication.
//
// Authentication model:
//   - Public endpoints (health, listings browse, register, login): no auth
//   - Everything else: a JWT issued at login, sent as "Authorization: Bearer"
//   - Roles are fixed at registration: buyers fund contracts, farmers fulfil them
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mbd888/krishiconnect/internal/idgen"
	"golang.org/x/crypto/bcrypt"
)

// Errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidRole        = errors.New("role must be buyer or farmer")
)

const issuer = "krishiconnect"

// Role is a marketplace role.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleFarmer Role = "farmer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleFarmer
}

// User is a registered marketplace participant.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FullName     string    `json:"fullName"`
	Role         Role      `json:"role"`
	BusinessType string    `json:"businessType,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Store persists users
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByRole(ctx context.Context, role Role, limit int) ([]*User, error)
}

// WalletOpener opens the wallet every user owns.
type WalletOpener interface {
	OpenWallet(ctx context.Context, userID string) error
}

// Claims are the JWT claims issued at login.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager handles registration, login and token validation
type Manager struct {
	store      Store
	wallets    WalletOpener
	secret     []byte
	ttl        time.Duration
	bcryptCost int
}

// NewManager creates a new auth manager
func NewManager(store Store, wallets WalletOpener, secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		store:      store,
		wallets:    wallets,
		secret:     []byte(secret),
		ttl:        ttl,
		bcryptCost: bcrypt.DefaultCost,
	}
}

// WithBcryptCost overrides the password hashing cost (tests use bcrypt.MinCost).
func (m *Manager) WithBcryptCost(cost int) *Manager {
	m.bcryptCost = cost
	return m
}

// RegisterRequest is the body of POST /v1/auth/register
type RegisterRequest struct {
	Email        string `json:"email" binding:"required"`
	Password     string `json:"password" binding:"required"`
	FullName     string `json:"fullName"`
	Role         Role   `json:"role" binding:"required"`
	BusinessType string `json:"businessType"`
}

// Register creates a user and the user's wallet.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if !req.Role.Valid() {
		return nil, ErrInvalidRole
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := m.store.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), m.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:           idgen.WithPrefix(idgen.User),
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		BusinessType: strings.TrimSpace(req.BusinessType),
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.Create(ctx, u); err != nil {
		return nil, err
	}
	if err := m.wallets.OpenWallet(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}
	return u, nil
}

// Login checks credentials and issues a token.
func (m *Manager) Login(ctx context.Context, email, password string) (string, *User, error) {
	u, err := m.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := m.IssueToken(u)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// IssueToken signs an HS256 token for u.
func (m *Manager) IssueToken(u *User) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ParseToken validates a raw token (with or without the "Bearer " prefix).
func (m *Manager) ParseToken(raw string) (*Claims, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil || claims.Subject == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// User returns a user by id.
func (m *Manager) User(ctx context.Context, id string) (*User, error) {
	return m.store.Get(ctx, id)
}

// FullName returns the user's display name, falling back to the id.
func (m *Manager) FullName(ctx context.Context, userID string) string {
	u, err := m.store.Get(ctx, userID)
	if err != nil || u.FullName == "" {
		return userID
	}
	return u.FullName
}

// UsersByRole lists users holding role.
func (m *Manager) UsersByRole(ctx context.Context, role Role, limit int) ([]*User, error) {
	return m.store.ListByRole(ctx, role, limit)
}

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User  // by ID
	byEmail map[string]string // email -> ID
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return ErrEmailTaken
	}
	cp := *u
	s.users[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *MemoryStore) ListByRole(ctx context.Context, role Role, limit int) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*User
	for _, u := range s.users {
		if u.Role != role {
			continue
		}
		cp := *u
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
