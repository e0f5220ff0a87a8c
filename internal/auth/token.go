package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/cash-advance/internal"
	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT token claims
type Claims struct {
	Email string   `json:"email"`
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type TokenVerifier interface {
	Verify(tokenString string) (Principal, error)
}

// JWTTokenManager signs and verifies HS256 access tokens.
type JWTTokenManager struct {
	Secret         []byte
	Issuer         string
	AccessTokenTTL time.Duration
	now            func() time.Time
}

func NewJWTTokenManager(secret, issuer string, ttl time.Duration) *JWTTokenManager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTTokenManager{
		Secret:         []byte(secret),
		Issuer:         issuer,
		AccessTokenTTL: ttl,
		now:            time.Now,
	}
}

// Issue mints a token for p. Used by the token command for development.
func (j *JWTTokenManager) Issue(p Principal) (string, error) {
	now := j.now()
	claims := &Claims{
		Email: strings.ToLower(strings.TrimSpace(p.Email)),
		Name:  p.Name,
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.Issuer,
			Subject:   strings.ToLower(strings.TrimSpace(p.Email)),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.AccessTokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

func (j *JWTTokenManager) Verify(tokenString string) (Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithExpirationRequired(),
	}
	if j.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.Secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, internal.ErrTokenExpired
		}
		return Principal{}, internal.ErrInvalidToken.WithCause(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Principal{}, internal.ErrInvalidToken
	}

	email := claims.Email
	if email == "" {
		email = claims.Subject
	}
	if email == "" {
		return Principal{}, internal.ErrInvalidToken.WithMessage("token carries no email")
	}

	return Principal{
		Email: strings.ToLower(email),
		Name:  claims.Name,
		Roles: claims.Roles,
	}, nil
}
