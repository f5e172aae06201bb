package jwt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var (
	ErrMissingAuthHeader  = errors.New("missing Authorization header")
	ErrInvalidAuthHeader  = errors.New("invalid Authorization header")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingUserIDClaim = errors.New("user_id missing in token")
)

type Claims struct {
	UserID int64
	Role   string
}

func (c Claims) IsAdmin() bool {
	return strings.EqualFold(c.Role, RoleAdmin)
}

type JWTParser struct {
	Secret string
}

func New(secret string) *JWTParser {
	return &JWTParser{
		Secret: secret,
	}
}

// * ParseToken reads the caller from an "Authorization: Bearer <token>" header value
func (p *JWTParser) ParseToken(authHeader string) (Claims, error) {
	if authHeader == "" {
		return Claims{}, ErrMissingAuthHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || strings.TrimSpace(parts[1]) == "" {
		return Claims{}, ErrInvalidAuthHeader
	}

	tokenString := strings.TrimSpace(parts[1])

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.Secret), nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	uidFloat, ok := claims["uid"].(float64)
	if !ok {
		return Claims{}, ErrMissingUserIDClaim
	}

	role, _ := claims["role"].(string)

	return Claims{
		UserID: int64(uidFloat),
		Role:   role,
	}, nil
}
