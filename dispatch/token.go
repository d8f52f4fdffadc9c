package dispatch

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/c360/specgate/errors"
	"github.com/c360/specgate/server"
)

var bearerScheme = regexp.MustCompile(`(?i)^Bearer$`)

type tokenKey struct{}

// WithToken returns ctx carrying token
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token stored by TokenCheck
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// BearerToken extracts the credentials of an "Authorization: Bearer <token>"
// header. Other schemes yield no token; a header that is not exactly two
// space separated parts is a BAD_REQUEST.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 {
		return "", errors.BadRequest("Malformed authorization header")
	}
	if bearerScheme.MatchString(parts[0]) {
		return parts[1], nil
	}
	return "", nil
}

// TokenCheck resolves the bearer token of each request into its context
func TokenCheck() server.Middleware {
	return func(next server.Handler) server.Handler {
		return server.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			token, err := BearerToken(r)
			if err != nil {
				return err
			}
			if token != "" {
				r = r.WithContext(WithToken(r.Context(), token))
			}
			return next.Serve(w, r)
		})
	}
}
