package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sakif/vidshare/internal/model"
)

// CookieName is the HttpOnly cookie that carries the session token for
// browser clients.
const CookieName = "token"

// Authenticator resolves a session token to a verified user.
//
// service.AuthService implements it. The interface lives here, next to the
// middleware that consumes it, so this package never imports service.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// contextKey is unexported so no other package can read or overwrite our
// context values by guessing a string key.
type contextKey string

const userKey contextKey = "user"

// UnauthorizedFunc writes the 401 response. The handler package supplies one
// that uses the JSON error envelope.
type UnauthorizedFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequireAuth rejects requests without a valid session and stores the
// authenticated *model.User in the context for the rest.
//
// TOKEN LOOKUP ORDER:
//  1. "Authorization: Bearer <token>" (API clients, the upload form's fetch)
//  2. the "token" cookie (browser navigation)
//
// The lookup hits the user store on every request, so a deleted or
// unverified account is locked out even while its token has not expired.
func RequireAuth(authn Authenticator, unauthorized UnauthorizedFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authn.Authenticate(r.Context(), TokenFromRequest(r))
			if err != nil {
				unauthorized(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// TokenFromRequest returns the bearer token, else the cookie value, else "".
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the user RequireAuth stored, or (nil, false) for
// anonymous requests.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}
