// Package auth validates a caller-supplied bearer token before dialing.
// Grounded on internal/server/rest/middleware.go's JWT validation, but
// inverted: the teacher's middleware sits on the server and verifies an
// RS256 signature against its own public key; this package sits on the
// client, which has no server public key and therefore can only parse the
// token's claims unverified and check that it has not already expired. The
// server remains the sole authority on signature validity.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/duskline/wsclient/internal/wserr"
)

// CheckExpiry parses token without verifying its signature and returns a
// *wserr.Error tagged wserr.CodeMissingParameter if the token is malformed
// or its exp claim is in the past. A token with no exp claim is treated as
// non-expiring and passes.
func CheckExpiry(token string) error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return wserr.Wrap(wserr.CodeMissingParameter, "parse bearer token", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return wserr.Wrap(wserr.CodeMissingParameter, "read exp claim", err)
	}
	if exp == nil {
		return nil
	}
	if time.Now().After(exp.Time) {
		return wserr.New(wserr.CodeMissingParameter, "bearer token expired at "+exp.Time.Format(time.RFC3339))
	}
	return nil
}

// AuthorizationHeader formats token as a Bearer Authorization header value.
func AuthorizationHeader(token string) string {
	return "Bearer " + token
}
