package security

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"matchtalk/internal/domain"
)

// TokenVerifier is the authentication collaborator boundary: it turns a
// bearer credential into a verified user ID or rejects it. Session issuance
// lives in the auth service; the signing helper below exists for tests and
// local development.
type TokenVerifier struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenVerifier(secret string, expiresIn time.Duration) *TokenVerifier {
	return &TokenVerifier{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// VerifiedUserID validates the token and returns the user ID it was issued
// for. Any parse, signature, expiry, or subject problem collapses to
// ErrUnauthorized.
func (t *TokenVerifier) VerifiedUserID(tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, domain.ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, domain.ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || userID <= 0 {
		return 0, domain.ErrUnauthorized
	}
	return userID, nil
}

// SignForUser creates a token for the given user with the default TTL.
func (t *TokenVerifier) SignForUser(userID int64) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": now.Unix(),
		"exp": now.Add(t.expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}
