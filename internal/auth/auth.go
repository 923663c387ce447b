// Package auth carries the admin dashboard's account system: registration
// with admin approval, JWT login, and the middleware guarding admin routes.
// Device endpoints stay unauthenticated; the edge hardware sends no tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken       = errors.New("auth: email already registered")
	ErrUserNotFound     = errors.New("auth: user not found")
	ErrBadCredentials   = errors.New("auth: wrong email or password")
	ErrPendingApproval  = errors.New("auth: account awaiting admin approval")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrForbidden        = errors.New("auth: admin role required")
)

// Roles. New registrations start as pending until an admin approves them.
const (
	RolePending = "pending"
	RoleUser    = "user"
	RoleAdmin   = "admin"
)

type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
	Approved     bool   `json:"approved"`
}

// UserStore is the account persistence contract.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	ByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, id int64, approved bool, role string) error
}

// Claims carried by issued tokens.
type Claims struct {
	Name string `json:"name"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// LoginResult is what /api/auth/login returns. Unapproved users still get a
// token so the UI can show the pending page, mirroring the deployed server.
type LoginResult struct {
	Token    string `json:"token"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Approved bool   `json:"approved"`
}

type Manager struct {
	store  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(store UserStore, secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{store: store, secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Register creates a pending, unapproved account.
func (m *Manager) Register(ctx context.Context, email, name, password string) error {
	if email == "" || name == "" || password == "" {
		return fmt.Errorf("auth: email, name and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return m.store.Create(ctx, &User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         RolePending,
		Approved:     false,
	})
}

// Login verifies the password and issues a signed token. Unapproved accounts
// get ErrPendingApproval alongside a usable result.
func (m *Manager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := m.store.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}

	token, err := m.issue(u)
	if err != nil {
		return nil, err
	}
	res := &LoginResult{Token: token, Name: u.Name, Role: u.Role, Approved: u.Approved}
	if !u.Approved {
		return res, ErrPendingApproval
	}
	return res, nil
}

func (m *Manager) issue(u *User) (string, error) {
	now := m.now()
	claims := Claims{
		Name: u.Name,
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   fmt.Sprintf("%d", u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses and validates a token string.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return m.now() }))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Users lists every account for the admin user-management page.
func (m *Manager) Users(ctx context.Context) ([]User, error) {
	return m.store.List(ctx)
}

// UpdateUser applies an admin approval / role change.
func (m *Manager) UpdateUser(ctx context.Context, id int64, approved bool, role string) error {
	return m.store.Update(ctx, id, approved, role)
}

// RequireAdmin guards admin-only routes with a bearer token check.
func (m *Manager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"message":"missing token"}`, http.StatusUnauthorized)
			return
		}
		claims, err := m.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		if claims.Role != RoleAdmin {
			http.Error(w, `{"message":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
