package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"fieldscope/pkg/domain"
)

const (
	defaultIssuer     = "fieldscope"
	defaultSessionTTL = 24 * time.Hour
	defaultLeeway     = 30 * time.Second
)

// ErrInvalidToken is returned for expired, malformed, or mis-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the verified contents of a session token. The role claim is a
// hint only; handlers re-read the authoritative role from storage.
type Claims struct {
	UserID string
	Role   domain.UserRole
}

type sessionClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies HS256 session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
}

// NewSessionManager builds a manager from a shared secret.
func NewSessionManager(secret string, ttl time.Duration, issuer string) (*SessionManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
		leeway: defaultLeeway,
	}, nil
}

// Issue mints a signed token for the user carrying subject and role claims.
func (m *SessionManager) Issue(user domain.User) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		Role: string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates signature and standard claims and returns the subject.
func (m *SessionManager) Verify(token string) (Claims, error) {
	claims := sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.leeway),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{UserID: subject, Role: domain.UserRole(claims.Role)}, nil
}
