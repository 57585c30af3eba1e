package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// ForceHTTPS redirects plain-HTTP requests to the same URL on https.
//
// Behind a TLS-terminating proxy the server itself only sees HTTP, so a
// request counts as secure when it arrived over TLS or when the proxy set
// X-Forwarded-Proto: https. Paths in skip (health checks from the load
// balancer) are served over either scheme.
//
// 308 keeps the method and body, so a POST is not turned into a GET.
func ForceHTTPS(skip ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.TLS != nil ||
				strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") ||
				slices.Contains(skip, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusPermanentRedirect)
		})
	}
}
