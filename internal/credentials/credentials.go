// Package credentials reads an expiry out of JWT-shaped auth params so the
// client can proactively re-authenticate rather than wait for a server
// kick.
package credentials

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryOf returns the expiry of params["token"] or params["authToken"] when
// that value parses as a JWT, ok=false otherwise. The client never verifies
// the server's signing key; it only reads the exp claim, so ParseUnverified
// is intentional, not an oversight.
func ExpiryOf(params map[string]any) (time.Time, bool) {
	raw, ok := tokenField(params)
	if !ok {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func tokenField(params map[string]any) (string, bool) {
	for _, key := range []string{"token", "authToken"} {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
