package identity

import (
	"errors"
	"fmt"
	"strings"

	apperrors "herenow/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingToken = errors.New("missing bearer token")

// JWTVerifier validates HS256 bearer tokens and yields the "sub" claim as
// the user id. Issuing tokens is someone else's job.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperrors.Unauthenticated("Sign in to continue")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperrors.Wrap(err, apperrors.CodeUnauthenticated, "Session expired, sign in again", 401)
		}
		return "", apperrors.Wrap(err, apperrors.CodeUnauthenticated, "Invalid credentials", 401)
	}

	if !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", apperrors.Unauthenticated("Invalid credentials")
	}

	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}
