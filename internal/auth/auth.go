// Package auth issues and verifies the HS256 bearer tokens that gate the
// bidirectional channel and the chat history endpoint.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"market-stream/internal/models"
)

var (
	// ErrInvalidToken covers missing, malformed, badly signed and expired
	// tokens alike; callers must not leak which part failed.
	ErrInvalidToken = errors.New("invalid or expired token")

	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Service signs and verifies tokens with a shared secret supplied at
// construction. How the secret is provisioned is the caller's problem.
type Service struct {
	secret []byte
	ttl    time.Duration
	users  []models.User
}

func NewService(secret string, ttl time.Duration, users []models.User) *Service {
	return &Service{secret: []byte(secret), ttl: ttl, users: users}
}

// Sign issues a token binding the identity for the configured TTL.
func (s *Service) Sign(identity models.Identity) (string, error) {
	claims := Claims{
		Email: identity.Email,
		Name:  identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature and expiry and returns the bound identity.
func (s *Service) Verify(tokenString string) (models.Identity, error) {
	if tokenString == "" {
		return models.Identity{}, ErrInvalidToken
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{Email: claims.Email, Name: claims.Name}, nil
}

// Login checks the pre-shared user roster and issues a token on a match.
func (s *Service) Login(email, password string) (string, error) {
	for _, user := range s.users {
		if user.Email == email && user.Password == password {
			return s.Sign(models.Identity{Email: user.Email, Name: user.Name})
		}
	}
	return "", ErrInvalidCredentials
}

// BearerToken extracts the token from the request: the Authorization header
// wins, the token query parameter is the fallback.
func BearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return token
		}
	}
	return r.URL.Query().Get("token")
}
