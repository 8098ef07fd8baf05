package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const grantKey contextKey = iota

// AuthMiddleware resolves the bearer access token and stores its grant on
// the request context. Missing, unknown and expired tokens are rejected with
// 401 UNAUTHORIZED.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			a.fail(w, errUnauthorized)
			return
		}
		g, ok := a.accessTokens.get(token)
		if !ok {
			a.fail(w, errUnauthorized)
			return
		}
		g.AccessToken = token
		ctx := context.WithValue(r.Context(), grantKey, g)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func grantFromContext(ctx context.Context) (grant, bool) {
	g, ok := ctx.Value(grantKey).(grant)
	return g, ok
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
