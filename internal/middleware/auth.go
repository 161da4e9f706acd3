package middleware

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ownerTokenKey is the context key holding the raw bearer token from the
// Authorization header, when present.
const ownerTokenKey contextKey = "owner_token"

// OwnerToken extracts the bearer token from the context. Returns empty
// string if the request carried none.
func OwnerToken(ctx context.Context) string {
	token, _ := ctx.Value(ownerTokenKey).(string)
	return token
}

// ExtractOwnerToken returns an interceptor that copies a bearer token from
// the Authorization header into the context. It never rejects: almost
// every procedure is open to anyone holding the share token, and the few
// that need ownership validate the claim themselves.
func ExtractOwnerToken() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			authHeader := req.Header().Get("Authorization")
			if authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) == 2 && parts[0] == "Bearer" {
					ctx = context.WithValue(ctx, ownerTokenKey, parts[1])
				}
			}
			return next(ctx, req)
		}
	}
}
