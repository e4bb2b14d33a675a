package bridge

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

const tokenBytes = 32

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// GenerateToken returns a random 64-character hex token.
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// checkToken accepts "Authorization: Bearer <token>" or, since browsers
// cannot set headers on a websocket handshake, a token query parameter.
func checkToken(r *http.Request, expected string) error {
	token := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); h != "" {
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(h, bearerPrefix) {
			return errInvalidToken
		}
		token = h[len(bearerPrefix):]
	}
	if token == "" {
		return errMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return errInvalidToken
	}
	return nil
}
