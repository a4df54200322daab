package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// requireWorkerToken guards the chunk worker endpoint. Peers running chunks
// for another instance send the shared pipeline.worker_token as a bearer
// token.
func requireWorkerToken(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				slog.Warn("rejected chunk request", "remote", r.RemoteAddr, "path", r.URL.Path)
				httpError(w, http.StatusUnauthorized, errAuth, "invalid or missing worker token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
