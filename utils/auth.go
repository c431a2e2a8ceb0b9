package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"my-teddy/models"
)

// Token audiences
const (
	AudienceSession = "session"
	AudienceVerify  = "verify"
)

// DefaultTokenTTL is the lifetime of session and verification tokens
const DefaultTokenTTL = 24 * time.Hour

// ErrInvalidToken is returned for tokens that fail signature, expiry or
// audience checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims represents the JWT claims. Subject carries the user id, or the
// email for verification tokens, and Id carries the session id.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.StandardClaims
}

// SessionID of a session token
func (c *Claims) SessionID() string { return c.Id }

// UserID of a session token
func (c *Claims) UserID() string { return c.Subject }

// Expiry of the token
func (c *Claims) Expiry() time.Time { return time.Unix(c.ExpiresAt, 0) }

// IsAdmin reports whether the token carries the admin role
func (c *Claims) IsAdmin() bool { return c.Role == models.RoleAdmin }

// Tokens signs and parses HS256 tokens
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns a signer using secret
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *Tokens) sign(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return s, nil
}

// IssueSession generates a session token for user with a fresh session id
func (t *Tokens) IssueSession(user models.User) (string, *Claims, error) {
	now := t.now()
	claims := &Claims{
		Role: user.Role,
		StandardClaims: jwt.StandardClaims{
			Audience:  AudienceSession,
			Subject:   user.ID,
			Id:        uuid.NewString(),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(t.ttl).Unix(),
		},
	}
	s, err := t.sign(claims)
	if err != nil {
		return "", nil, err
	}
	return s, claims, nil
}

// IssueVerification generates the token mailed to a new account
func (t *Tokens) IssueVerification(email string) (string, error) {
	now := t.now()
	return t.sign(&Claims{
		StandardClaims: jwt.StandardClaims{
			Audience:  AudienceVerify,
			Subject:   email,
			Id:        uuid.NewString(),
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(t.ttl).Unix(),
		},
	})
}

// Parse validates tokenStr and checks it was issued for audience
func (t *Tokens) Parse(tokenStr, audience string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !claims.VerifyAudience(audience, true) {
		return nil, fmt.Errorf("%w: wrong audience", ErrInvalidToken)
	}
	return claims, nil
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

// CheckPassword reports whether password matches hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
