// Package pprof exposes runtime profiles behind a bearer token.
package pprof

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
)

// Prefix is where the receiver mounts the profiling routes.
const Prefix = "/debug/pprof/"

// Handler serves the net/http/pprof endpoints under Prefix. It returns nil
// when token is empty: profiles are never served unauthenticated.
func Handler(token string) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return nil
	}
	mux := http.NewServeMux()
	base := strings.TrimSuffix(Prefix, "/")
	mux.HandleFunc(Prefix, hpprof.Index)
	mux.HandleFunc(base+"/cmdline", hpprof.Cmdline)
	mux.HandleFunc(base+"/profile", hpprof.Profile)
	mux.HandleFunc(base+"/symbol", hpprof.Symbol)
	mux.HandleFunc(base+"/trace", hpprof.Trace)
	return withAuth(tok, mux)
}

// withAuth accepts either "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(tok string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) {
				got = strings.TrimSpace(strings.TrimPrefix(ah, p))
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}
