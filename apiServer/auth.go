package apiServer

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// AuthFunc admits or rejects a request before routing.
type AuthFunc func(r *http.Request) error

func allowAll(*http.Request) error { return nil }

// BearerAuth requires "Authorization: Bearer <token>". The
// metrics endpoint stays open for scrapers.
func BearerAuth(token string) AuthFunc { // A
	return func(r *http.Request) error {
		if r.URL.Path == "/metrics" {
			return nil
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || got == "" {
			return errors.New("missing bearer token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return errors.New("invalid bearer token")
		}
		return nil
	}
}
