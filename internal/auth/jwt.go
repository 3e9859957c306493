package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is what a verified session JWT carries. Every token's jti
// must still resolve to a live sessions row before it is trusted.
type SessionClaims struct {
	UserID string
	Guard  string
	JTI    string
}

func signSessionToken(secret []byte, userID, guardName, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"guard": guardName,
		"jti":   jti,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func verifySessionToken(secret []byte, tokenStr string) (SessionClaims, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !tok.Valid {
		return SessionClaims{}, ErrTokenInvalid
	}
	mapc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return SessionClaims{}, ErrTokenInvalid
	}
	sub, _ := mapc["sub"].(string)
	guardName, _ := mapc["guard"].(string)
	jti, _ := mapc["jti"].(string)
	if sub == "" || jti == "" {
		return SessionClaims{}, ErrTokenInvalid
	}
	return SessionClaims{UserID: sub, Guard: guardName, JTI: jti}, nil
}
