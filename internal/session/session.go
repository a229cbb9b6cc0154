package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"inktrail/internal/config"
	"inktrail/internal/domain"
	"inktrail/internal/fault"
	"inktrail/internal/repo"
)

// TokenPair is one issued credential set. The refresh token is returned raw
// exactly once; only its hash is stored.
type TokenPair struct {
	AccessToken    string
	RefreshToken   string
	AccessExpires  time.Time
	RefreshExpires time.Time
}

// Identity is the provider contract the request pipeline consumes: validate
// an access token, or trade a refresh token for a new pair.
type Identity interface {
	ValidateAccessToken(token string) (domain.User, error)
	Refresh(ctx context.Context, refreshToken string) (domain.User, TokenPair, error)
}

type claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Manager issues and validates sessions against the local user store.
type Manager struct {
	Repo   repo.Repo
	Policy config.SessionPolicy
	Now    func() time.Time
}

func NewManager(r repo.Repo, policy config.SessionPolicy) *Manager {
	return &Manager{Repo: r, Policy: policy, Now: time.Now}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func newRefreshToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

func (m *Manager) issueAccessToken(u domain.User, now time.Time) (string, time.Time, error) {
	expires := now.Add(m.Policy.AccessTTL())
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Name:  u.Name,
		Email: u.Email,
	})
	signed, err := token.SignedString([]byte(m.Policy.JWTSecret))
	return signed, expires, err
}

// Login opens a new session for an existing user and returns its token pair.
func (m *Manager) Login(ctx context.Context, u domain.User) (TokenPair, error) {
	now := m.now().UTC()
	access, accessExp, err := m.issueAccessToken(u, now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh := newRefreshToken()
	refreshExp := now.Add(m.Policy.RefreshTTL())
	s := domain.Session{
		ID:          uuid.New().String(),
		UserID:      u.ID,
		RefreshHash: repo.HashToken(refresh),
		ExpiresAt:   refreshExp.Format(time.RFC3339),
		CreatedAt:   now.Format(time.RFC3339),
	}
	if err := m.Repo.InsertSession(ctx, s); err != nil {
		return TokenPair{}, fault.Database(err, "create session")
	}
	return TokenPair{
		AccessToken:    access,
		RefreshToken:   refresh,
		AccessExpires:  accessExp,
		RefreshExpires: refreshExp,
	}, nil
}

// ValidateAccessToken parses and checks an access token. Expired tokens fail
// with the session_expired kind so the pipeline can attempt a refresh.
func (m *Manager) ValidateAccessToken(token string) (domain.User, error) {
	if strings.TrimSpace(m.Policy.JWTSecret) == "" {
		return domain.User{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(t *jwt.Token) (any, error) {
		return []byte(m.Policy.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.User{}, fault.SessionExpired("access token expired")
		}
		return domain.User{}, fault.Unauthorized("invalid credentials")
	}
	if !parsed.Valid || c.Subject == "" {
		return domain.User{}, fault.Unauthorized("invalid credentials")
	}
	return domain.User{ID: c.Subject, Name: c.Name, Email: c.Email}, nil
}

// Refresh trades a refresh token for a rotated pair. Unknown or expired
// tokens fail with the session_expired kind.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (domain.User, TokenPair, error) {
	s, err := m.Repo.GetSessionByRefreshHash(ctx, repo.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, TokenPair{}, fault.SessionExpired("session expired")
		}
		return domain.User{}, TokenPair{}, fault.Database(err, "load session")
	}
	now := m.now().UTC()
	exp, err := time.Parse(time.RFC3339, s.ExpiresAt)
	if err != nil || !now.Before(exp) {
		_ = m.Repo.DeleteSession(ctx, s.ID)
		return domain.User{}, TokenPair{}, fault.SessionExpired("session expired")
	}
	u, err := m.Repo.GetUser(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			_ = m.Repo.DeleteSession(ctx, s.ID)
			return domain.User{}, TokenPair{}, fault.SessionExpired("session expired")
		}
		return domain.User{}, TokenPair{}, fault.Database(err, "load session user")
	}
	access, accessExp, err := m.issueAccessToken(u, now)
	if err != nil {
		return domain.User{}, TokenPair{}, err
	}
	refresh := newRefreshToken()
	refreshExp := now.Add(m.Policy.RefreshTTL())
	if err := m.Repo.RotateSession(ctx, s.ID, repo.HashToken(refresh), refreshExp.Format(time.RFC3339)); err != nil {
		return domain.User{}, TokenPair{}, fault.Database(err, "rotate session")
	}
	return u, TokenPair{
		AccessToken:    access,
		RefreshToken:   refresh,
		AccessExpires:  accessExp,
		RefreshExpires: refreshExp,
	}, nil
}

// Logout drops the session matching the refresh token. Unknown tokens are a
// no-op.
func (m *Manager) Logout(ctx context.Context, refreshToken string) error {
	s, err := m.Repo.GetSessionByRefreshHash(ctx, repo.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		return fault.Database(err, "load session")
	}
	return m.Repo.DeleteSession(ctx, s.ID)
}
