package ooth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignToken issues a stateless credential for the user: an HS256 JWT whose
// payload is {_id, iat} plus exp when an expiry is configured. Requires
// Config.SharedSecret.
func (o *Ooth) SignToken(userID string) (string, error) {
	if o.sharedSecret == "" {
		return "", errors.New("ooth: no shared secret configured")
	}
	claims := jwt.MapClaims{
		"_id": userID,
		"iat": o.now().Unix(),
	}
	if o.tokenExpiry > 0 {
		claims["exp"] = o.now().Add(o.tokenExpiry).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(o.sharedSecret))
}

// VerifyToken validates a token's signature and expiry and returns the user
// id it binds. The claimed id is only trusted after the signature checks
// out against the configured secret.
func (o *Ooth) VerifyToken(tokenString string) (string, error) {
	if o.sharedSecret == "" {
		return "", errTokenInvalid()
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errTokenInvalid()
		}
		return []byte(o.sharedSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errTokenExpired()
		}
		return "", &Error{Code: CodeTokenInvalid, Message: "Invalid token", cause: err}
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errTokenInvalid()
	}
	userID, _ := claims["_id"].(string)
	if userID == "" {
		return "", errTokenInvalid()
	}
	return userID, nil
}

// tokenExpiryDefault applies when token mode is on and no expiry was given.
const tokenExpiryDefault = 24 * time.Hour
